// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package poll

import (
	"container/heap"
	"slices"
	"sync"
	"time"
)

// DueEntry is one scheduled feed key in the due-queue.
type DueEntry struct {
	FeedKey string    `json:"feed_key"`
	DueAt   time.Time `json:"due_at"`
}

// DueQueue orders feed keys by their next poll time. A feed key appears at
// most once; ties on due time pop in insertion order.
//
// The queue is rebuilt from the poll state store on startup, so it only
// lives in memory.
type DueQueue struct {
	mu    sync.Mutex
	h     dueHeap
	index map[string]*dueItem
	seq   uint64
}

// NewDueQueue returns an empty DueQueue.
func NewDueQueue() *DueQueue {
	return &DueQueue{index: make(map[string]*dueItem)}
}

// Upsert inserts feedKey with the given due time, or moves it if already
// present.
func (q *DueQueue) Upsert(feedKey string, dueAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it, ok := q.index[feedKey]; ok {
		it.dueAt = dueAt
		heap.Fix(&q.h, it.heapIndex)
		return
	}

	q.seq++
	it := &dueItem{key: feedKey, dueAt: dueAt, seq: q.seq}
	q.index[feedKey] = it
	heap.Push(&q.h, it)
}

// PopDueBefore removes and returns all feed keys due at or before t, in
// ascending due-time order.
func (q *DueQueue) PopDueBefore(t time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []string
	for len(q.h) > 0 && !q.h[0].dueAt.After(t) {
		it := heap.Pop(&q.h).(*dueItem)
		delete(q.index, it.key)
		due = append(due, it.key)
	}
	return due
}

// Remove deletes feedKey from the queue. Removing an absent key is a
// no-op.
func (q *DueQueue) Remove(feedKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[feedKey]
	if !ok {
		return
	}
	heap.Remove(&q.h, it.heapIndex)
	delete(q.index, feedKey)
}

// Contains reports whether feedKey is scheduled.
func (q *DueQueue) Contains(feedKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[feedKey]
	return ok
}

// Len returns the number of scheduled feed keys.
func (q *DueQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Snapshot returns all entries, soonest first.
func (q *DueQueue) Snapshot() []DueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := make([]DueEntry, 0, len(q.h))
	for _, it := range q.h {
		entries = append(entries, DueEntry{FeedKey: it.key, DueAt: it.dueAt})
	}
	// The heap's backing slice is only partially ordered.
	slices.SortFunc(entries, func(a, b DueEntry) int {
		return a.DueAt.Compare(b.DueAt)
	})
	return entries
}

type dueItem struct {
	key       string
	dueAt     time.Time
	seq       uint64 // insertion order, breaks due-time ties
	heapIndex int
}

type dueHeap []*dueItem

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, j int) bool {
	if !h[i].dueAt.Equal(h[j].dueAt) {
		return h[i].dueAt.Before(h[j].dueAt)
	}
	return h[i].seq < h[j].seq
}

func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *dueHeap) Push(x any) {
	it := x.(*dueItem)
	it.heapIndex = len(*h)
	*h = append(*h, it)
}

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.heapIndex = -1
	*h = old[:n-1]
	return it
}
