// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package poll

import (
	"slices"
	"time"

	"redditwatch/internal/feed"
	"redditwatch/internal/registry"
)

// Marker records how far into a feed a subscriber has already seen.
// ID takes precedence; Since is the fallback when ID is empty or no
// longer present in the feed.
type Marker struct {
	ID    string
	Since time.Time
}

// MarkerFor extracts the seen marker from a subscriber record.
func MarkerFor(sub registry.Subscriber) Marker {
	return Marker{ID: sub.LastSeenItemID, Since: sub.LastCheckedAt}
}

// SortNewestFirst orders items by publish time, newest first. Items with
// equal publish times keep their relative feed order.
func SortNewestFirst(items []feed.Item) {
	slices.SortStableFunc(items, func(a, b feed.Item) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
}

// NewItems returns the items in sorted (newest first) that the marker has
// not seen yet, preserving order.
//
// When the marker ID is present in the feed, everything strictly before it
// is new. When the ID is set but absent (pushed out of the feed window, or
// the post was deleted), every item is considered new rather than silently
// skipping the gap. When no ID has been recorded yet, items published after
// Since are new.
func NewItems(sorted []feed.Item, m Marker) []feed.Item {
	if m.ID != "" {
		if i := slices.IndexFunc(sorted, func(it feed.Item) bool {
			return it.ID == m.ID
		}); i >= 0 {
			return slices.Clone(sorted[:i])
		}
		return slices.Clone(sorted)
	}
	var fresh []feed.Item
	for _, it := range sorted {
		if it.PublishedAt.After(m.Since) {
			fresh = append(fresh, it)
		}
	}
	return fresh
}
