// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package registry keeps track of who is subscribed to which feed.
//
// All subscriptions live in a single versioned JSON document inside the
// key-value store, so the on-disk shape is checked at compile time instead
// of drifting silently.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"redditwatch/internal/store"
)

const (
	storeKey      = "subscriptions"
	schemaVersion = 1
)

// Subscriber is a single (feed key, destination) subscription with its
// last-seen marker.
//
// Destination is opaque here; the delivery layer decides how to route it.
// LastSeenItemID may be empty, in which case LastCheckedAt is the dedup
// boundary.
type Subscriber struct {
	FeedKey        string    `json:"feed_key"`
	Destination    string    `json:"destination"`
	LastCheckedAt  time.Time `json:"last_checked_at"`
	LastSeenItemID string    `json:"last_seen_item_id,omitempty"`
}

type document struct {
	Version int                     `json:"version"`
	Feeds   map[string][]Subscriber `json:"feeds"`
}

// Registry stores subscribers in a [store.Store].
//
// Read-modify-write cycles are serialized by an in-process mutex; the
// design assumes a single active process (see the scheduler docs).
type Registry struct {
	mu sync.Mutex
	s  store.Store
}

// New returns a Registry backed by s.
func New(s store.Store) *Registry {
	return &Registry{s: s}
}

func (r *Registry) load(ctx context.Context) (*document, error) {
	b, err := r.s.Get(ctx, storeKey)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}
	doc := &document{Version: schemaVersion, Feeds: make(map[string][]Subscriber)}
	if b == nil {
		return doc, nil
	}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("decoding subscriptions: %w", err)
	}
	if doc.Version != schemaVersion {
		return nil, fmt.Errorf("unsupported subscriptions schema version %d", doc.Version)
	}
	if doc.Feeds == nil {
		doc.Feeds = make(map[string][]Subscriber)
	}
	return doc, nil
}

func (r *Registry) save(ctx context.Context, doc *document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := r.s.Set(ctx, storeKey, b); err != nil {
		return fmt.Errorf("saving subscriptions: %w", err)
	}
	return nil
}

// Subscribers returns all subscribers of the given feed key.
func (r *Registry) Subscribers(ctx context.Context, feedKey string) ([]Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(doc.Feeds[feedKey]), nil
}

// Upsert inserts sub or, if a subscriber with the same (feed key,
// destination) pair exists, replaces it.
func (r *Registry) Upsert(ctx context.Context, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return err
	}

	subs := doc.Feeds[sub.FeedKey]
	idx := slices.IndexFunc(subs, func(s Subscriber) bool {
		return s.Destination == sub.Destination
	})
	if idx >= 0 {
		subs[idx] = sub
	} else {
		subs = append(subs, sub)
	}
	doc.Feeds[sub.FeedKey] = subs

	return r.save(ctx, doc)
}

// Remove deletes the subscriber identified by (feedKey, destination) and
// reports whether it existed.
func (r *Registry) Remove(ctx context.Context, feedKey, destination string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return false, err
	}

	subs := doc.Feeds[feedKey]
	idx := slices.IndexFunc(subs, func(s Subscriber) bool {
		return s.Destination == destination
	})
	if idx < 0 {
		return false, nil
	}

	subs = slices.Delete(subs, idx, idx+1)
	if len(subs) == 0 {
		delete(doc.Feeds, feedKey)
	} else {
		doc.Feeds[feedKey] = subs
	}

	if err := r.save(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

// FeedKeys returns all feed keys that have at least one subscriber, in
// no particular order.
func (r *Registry) FeedKeys(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(doc.Feeds))
	for key := range doc.Feeds {
		keys = append(keys, key)
	}
	return keys, nil
}

// FeedKeysFor returns all feed keys the given destination is subscribed
// to, sorted.
func (r *Registry) FeedKeysFor(ctx context.Context, destination string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	for key, subs := range doc.Feeds {
		if slices.ContainsFunc(subs, func(s Subscriber) bool {
			return s.Destination == destination
		}) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}
