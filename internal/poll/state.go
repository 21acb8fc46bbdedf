// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"redditwatch/internal/store"
)

const (
	stateStoreKey      = "pollstate"
	stateSchemaVersion = 1
)

// ErrNotTracked is returned when a scheduling operation refers to a feed
// key that has no poll state.
var ErrNotTracked = errors.New("feed is not tracked")

// State is the scheduling record of one feed key.
type State struct {
	FeedKey      string    `json:"feed_key"`
	LastPolledAt time.Time `json:"last_polled_at"`
	NextPollAt   time.Time `json:"next_poll_at"`
	RetryCount   int       `json:"retry_count"`
	ErrorCount   int       `json:"error_count"`
}

type stateDocument struct {
	Version int              `json:"version"`
	Feeds   map[string]State `json:"feeds"`
}

// StateStore persists per-feed scheduling state through a [store.Store]
// as a single versioned JSON document, so restart recovery can enumerate
// every tracked feed.
type StateStore struct {
	mu  sync.Mutex
	s   store.Store
	cfg Config

	// now is overridable in tests.
	now func() time.Time
}

// NewStateStore returns a StateStore backed by s.
func NewStateStore(s store.Store, cfg Config) *StateStore {
	return &StateStore{s: s, cfg: cfg.withDefaults(), now: time.Now}
}

func (ss *StateStore) load(ctx context.Context) (*stateDocument, error) {
	b, err := ss.s.Get(ctx, stateStoreKey)
	if err != nil {
		return nil, fmt.Errorf("loading poll state: %w", err)
	}
	doc := &stateDocument{Version: stateSchemaVersion, Feeds: make(map[string]State)}
	if b == nil {
		return doc, nil
	}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("decoding poll state: %w", err)
	}
	if doc.Version != stateSchemaVersion {
		return nil, fmt.Errorf("unsupported poll state schema version %d", doc.Version)
	}
	if doc.Feeds == nil {
		doc.Feeds = make(map[string]State)
	}
	return doc, nil
}

func (ss *StateStore) save(ctx context.Context, doc *stateDocument) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := ss.s.Set(ctx, stateStoreKey, b); err != nil {
		return fmt.Errorf("saving poll state: %w", err)
	}
	return nil
}

// Initialize creates scheduling state for feedKey with the first poll due
// after one base interval. If state already exists, it is returned
// unchanged.
func (ss *StateStore) Initialize(ctx context.Context, feedKey string) (State, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	doc, err := ss.load(ctx)
	if err != nil {
		return State{}, err
	}
	if st, ok := doc.Feeds[feedKey]; ok {
		return st, nil
	}

	now := ss.now()
	st := State{
		FeedKey:      feedKey,
		LastPolledAt: now,
		NextPollAt:   now.Add(ss.cfg.BaseInterval),
	}
	doc.Feeds[feedKey] = st
	if err := ss.save(ctx, doc); err != nil {
		return State{}, err
	}
	return st, nil
}

// Get returns the state of feedKey, reporting whether it exists.
func (ss *StateStore) Get(ctx context.Context, feedKey string) (State, bool, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	doc, err := ss.load(ctx)
	if err != nil {
		return State{}, false, err
	}
	st, ok := doc.Feeds[feedKey]
	return st, ok, nil
}

// All returns the state of every tracked feed.
func (ss *StateStore) All(ctx context.Context) ([]State, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	doc, err := ss.load(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]State, 0, len(doc.Feeds))
	for _, st := range doc.Feeds {
		states = append(states, st)
	}
	return states, nil
}

// RecordSuccess resets the failure counters of feedKey and schedules the
// next poll one base interval from now.
func (ss *StateStore) RecordSuccess(ctx context.Context, feedKey string) (State, error) {
	return ss.update(ctx, feedKey, func(st *State, now time.Time) {
		st.ErrorCount = 0
		st.RetryCount = 0
		st.LastPolledAt = now
		st.NextPollAt = now.Add(ss.cfg.BaseInterval)
	})
}

// RecordFailure bumps the failure counters of feedKey and schedules the
// next poll with exponential backoff, capped at MaxInterval.
func (ss *StateStore) RecordFailure(ctx context.Context, feedKey string) (State, error) {
	return ss.update(ctx, feedKey, func(st *State, now time.Time) {
		st.ErrorCount++
		st.RetryCount++
		backoff := time.Duration(float64(ss.cfg.BaseInterval) * math.Pow(ss.cfg.BackoffFactor, float64(st.RetryCount)))
		if backoff > ss.cfg.MaxInterval {
			backoff = ss.cfg.MaxInterval
		}
		st.NextPollAt = now.Add(backoff)
	})
}

func (ss *StateStore) update(ctx context.Context, feedKey string, f func(*State, time.Time)) (State, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	doc, err := ss.load(ctx)
	if err != nil {
		return State{}, err
	}
	st, ok := doc.Feeds[feedKey]
	if !ok {
		return State{}, fmt.Errorf("%q: %w", feedKey, ErrNotTracked)
	}

	f(&st, ss.now())
	doc.Feeds[feedKey] = st
	if err := ss.save(ctx, doc); err != nil {
		return State{}, err
	}
	return st, nil
}

// Remove deletes the state of feedKey. Removing an absent key is not an
// error.
func (ss *StateStore) Remove(ctx context.Context, feedKey string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	doc, err := ss.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := doc.Feeds[feedKey]; !ok {
		return nil
	}
	delete(doc.Feeds, feedKey)
	return ss.save(ctx, doc)
}
