// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feed defines the feed item model and fetching of subreddit RSS
// feeds.
package feed

import (
	"context"
	"strings"
	"time"
)

// Item is a single entry of a fetched feed.
//
// ID may be empty for upstream feeds that don't carry entry identifiers;
// consumers must fall back to PublishedAt in that case.
type Item struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Fetcher fetches a feed by its key and returns its items in no particular
// order.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]Item, error)
}

// CanonicalKey normalizes a raw subreddit name into a feed key: lowercased,
// with any leading "r/" or "/r/" prefix stripped.
//
// Normalization is idempotent: CanonicalKey(CanonicalKey(s)) == CanonicalKey(s).
func CanonicalKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.TrimPrefix(key, "/")
	key = strings.TrimPrefix(key, "r/")
	return key
}
