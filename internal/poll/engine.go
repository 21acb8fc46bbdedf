// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package poll schedules subreddit feed polls, detects items that are new
// for each subscriber and hands them to a delivery sink.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"redditwatch/internal/feed"
	"redditwatch/internal/registry"
	"redditwatch/internal/syncx"
)

// Sink delivers a rendered message to a destination. Implementations exist
// for Telegram chats and e-mail addresses.
type Sink interface {
	Send(ctx context.Context, destination, text string) error
}

// Renderer turns poll results into sink-ready message text. The renderer
// owns any escaping the sink's format needs.
type Renderer interface {
	// Post renders a single new feed item.
	Post(item feed.Item, feedKey string) string
	// Summary renders the "and N more" trailer shown when a poll finds
	// more new items than the delivery cap allows.
	Summary(hidden int, feedKey string) string
	// Dropped renders the notice sent when polling for a feed stops
	// after too many consecutive failures.
	Dropped(feedKey string) string
}

// plainRenderer is the fallback used when no renderer is configured.
type plainRenderer struct{}

func (plainRenderer) Post(item feed.Item, feedKey string) string {
	return fmt.Sprintf("New post in r/%s\n%s\nPosted by %s\n%s", feedKey, item.Title, item.Author, item.Link)
}

func (plainRenderer) Summary(hidden int, feedKey string) string {
	return fmt.Sprintf("And %d more new posts in r/%s.", hidden, feedKey)
}

func (plainRenderer) Dropped(feedKey string) string {
	return fmt.Sprintf("Stopped checking r/%s after repeated errors. Subscribe again to resume.", feedKey)
}

// Status reports whether an engine has been started or stopped.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not started"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ErrAlreadyRunning is returned by [Engine.Start] when the engine has
// already been started.
var ErrAlreadyRunning = errors.New("engine is already running")

// Stats are per-process poll counters.
type Stats struct {
	Polls        int64 `json:"polls"`
	Failures     int64 `json:"failures"`
	Drops        int64 `json:"drops"`
	NewItems     int64 `json:"new_items"`
	MessagesSent int64 `json:"messages_sent"`
}

// Options configures a poll [Engine]. Registry, States, Queue, Fetcher and
// Sink are required.
type Options struct {
	Config   Config
	Registry *registry.Registry
	States   *StateStore
	Queue    *DueQueue
	Fetcher  feed.Fetcher
	Sink     Sink
	Renderer Renderer     // optional, plain text when nil
	Logger   *slog.Logger // optional, slog.Default when nil

	// Now overrides the time source in tests.
	Now func() time.Time
}

// Engine runs the poll loop. Feed keys enter scheduling through [Engine.Track]
// and leave through [Engine.Untrack] or the failure ceiling.
type Engine struct {
	cfg    Config
	reg    *registry.Registry
	states *StateStore
	queue  *DueQueue
	fetch  feed.Fetcher
	sink   Sink
	render Renderer
	slog   *slog.Logger
	now    func() time.Time

	status *syncx.Protected[*Status]
	stats  *syncx.Protected[*Stats]

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		cfg:    opts.Config.withDefaults(),
		reg:    opts.Registry,
		states: opts.States,
		queue:  opts.Queue,
		fetch:  opts.Fetcher,
		sink:   opts.Sink,
		render: opts.Renderer,
		slog:   opts.Logger,
		now:    opts.Now,
		status: syncx.Protect(new(Status)),
		stats:  syncx.Protect(new(Stats)),
		stop:   make(chan struct{}),
	}
	if e.render == nil {
		e.render = plainRenderer{}
	}
	if e.slog == nil {
		e.slog = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Status reports the engine lifecycle state.
func (e *Engine) Status() Status {
	var s Status
	e.status.RAccess(func(cur *Status) { s = *cur })
	return s
}

// Stats returns a copy of the engine's counters.
func (e *Engine) Stats() Stats {
	var s Stats
	e.stats.RAccess(func(cur *Stats) { s = *cur })
	return s
}

// Start launches the poll loop in a background goroutine. It returns
// [ErrAlreadyRunning] if the engine was started before; a stopped engine
// cannot be restarted.
func (e *Engine) Start(ctx context.Context) error {
	var startErr error
	e.status.Access(func(s *Status) {
		if *s != StatusNotStarted {
			startErr = ErrAlreadyRunning
			return
		}
		*s = StatusRunning
	})
	if startErr != nil {
		return startErr
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()
	return nil
}

// Stop halts the poll loop and waits for an in-flight tick to finish.
// Stopping an engine that never ran, or stopping twice, is a no-op.
func (e *Engine) Stop() {
	var wasRunning bool
	e.status.Access(func(s *Status) {
		if *s == StatusRunning {
			wasRunning = true
			*s = StatusStopped
		}
	})
	if !wasRunning {
		return
	}
	close(e.stop)
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	t := time.NewTicker(e.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-t.C:
			e.Tick(ctx)
		}
	}
}

// Track puts a feed key on the poll schedule. Tracking an already tracked
// key changes nothing.
func (e *Engine) Track(ctx context.Context, feedKey string) error {
	st, err := e.states.Initialize(ctx, feedKey)
	if err != nil {
		return fmt.Errorf("tracking %q: %w", feedKey, err)
	}
	e.queue.Upsert(feedKey, st.NextPollAt)
	return nil
}

// Untrack removes a feed key from the schedule and forgets its poll state.
// An in-flight poll for the key finishes, notices the key has no
// subscribers and does not reschedule.
func (e *Engine) Untrack(ctx context.Context, feedKey string) error {
	e.queue.Remove(feedKey)
	if err := e.states.Remove(ctx, feedKey); err != nil {
		return fmt.Errorf("untracking %q: %w", feedKey, err)
	}
	return nil
}

// Rehydrate rebuilds the schedule from persisted subscriptions, typically
// after a restart. Feed keys with surviving poll state keep their next poll
// time; the rest start over from the base interval.
func (e *Engine) Rehydrate(ctx context.Context) error {
	keys, err := e.reg.FeedKeys(ctx)
	if err != nil {
		return fmt.Errorf("rehydrating: %w", err)
	}
	for _, key := range keys {
		st, ok, err := e.states.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("rehydrating %q: %w", key, err)
		}
		if !ok {
			st, err = e.states.Initialize(ctx, key)
			if err != nil {
				return fmt.Errorf("rehydrating %q: %w", key, err)
			}
		}
		e.queue.Upsert(key, st.NextPollAt)
	}
	e.slog.Info("schedule rebuilt", "feeds", len(keys))
	return nil
}

// Tick processes every feed key whose next poll time has arrived. Keys are
// popped before polling, so a key is never polled twice concurrently, and
// polled one at a time in due order. Poll errors are recorded in the feed's
// state and never escape the tick.
func (e *Engine) Tick(ctx context.Context) {
	for _, key := range e.queue.PopDueBefore(e.now()) {
		e.pollOne(ctx, key)
	}
}

func (e *Engine) pollOne(ctx context.Context, feedKey string) {
	e.stats.Access(func(s *Stats) { s.Polls++ })

	subs, err := e.reg.Subscribers(ctx, feedKey)
	if err != nil {
		// Transient store trouble. Keep the schedule intact and retry
		// on the next tick.
		e.slog.Warn("loading subscribers", "feed", feedKey, "error", err)
		e.queue.Upsert(feedKey, e.now().Add(e.cfg.TickInterval))
		return
	}
	if len(subs) == 0 {
		// Everyone unsubscribed while the poll was pending.
		e.slog.Debug("dropping feed without subscribers", "feed", feedKey)
		if err := e.states.Remove(ctx, feedKey); err != nil {
			e.slog.Warn("removing state", "feed", feedKey, "error", err)
		}
		return
	}

	items, err := e.fetch.Fetch(ctx, feedKey)
	if err != nil {
		e.recordFailure(ctx, feedKey, subs, err)
		return
	}

	SortNewestFirst(items)
	now := e.now()
	for _, sub := range subs {
		fresh := NewItems(items, MarkerFor(sub))
		if len(fresh) == 0 {
			continue
		}
		e.stats.Access(func(s *Stats) { s.NewItems += int64(len(fresh)) })
		e.deliver(ctx, sub, fresh)

		// The seen marker only moves when the poll actually found
		// something new, and it moves even when delivery failed:
		// a retried send would duplicate every message since.
		sub.LastCheckedAt = now
		// An item without a GUID must not wipe an earlier id; the
		// timestamp alone carries the marker then.
		if fresh[0].ID != "" {
			sub.LastSeenItemID = fresh[0].ID
		}
		if err := e.reg.Upsert(ctx, sub); err != nil {
			e.slog.Warn("advancing seen marker", "feed", feedKey, "destination", sub.Destination, "error", err)
		}
	}

	st, err := e.states.RecordSuccess(ctx, feedKey)
	if err != nil {
		e.slog.Warn("recording success", "feed", feedKey, "error", err)
		e.queue.Upsert(feedKey, now.Add(e.cfg.BaseInterval))
		return
	}
	e.queue.Upsert(feedKey, st.NextPollAt)
}

func (e *Engine) recordFailure(ctx context.Context, feedKey string, subs []registry.Subscriber, cause error) {
	e.stats.Access(func(s *Stats) { s.Failures++ })

	st, err := e.states.RecordFailure(ctx, feedKey)
	if err != nil {
		e.slog.Warn("recording failure", "feed", feedKey, "error", err)
		e.queue.Upsert(feedKey, e.now().Add(e.cfg.BaseInterval))
		return
	}

	if st.ErrorCount >= e.cfg.MaxRetries {
		e.stats.Access(func(s *Stats) { s.Drops++ })
		e.slog.Error("dropping feed after repeated failures", "feed", feedKey, "failures", st.ErrorCount, "error", cause)
		if err := e.states.Remove(ctx, feedKey); err != nil {
			e.slog.Warn("removing state", "feed", feedKey, "error", err)
		}
		// Subscriptions stay; subscribing again restarts polling.
		notice := e.render.Dropped(feedKey)
		for _, sub := range subs {
			if err := e.send(ctx, sub.Destination, notice); err != nil {
				e.slog.Warn("sending drop notice", "feed", feedKey, "destination", sub.Destination, "error", err)
			}
		}
		return
	}

	e.slog.Warn("poll failed, backing off",
		"feed", feedKey,
		"failures", st.ErrorCount,
		"retry_in", st.NextPollAt.Sub(e.now()).Round(time.Second),
		"error", cause,
	)
	e.queue.Upsert(feedKey, st.NextPollAt)
}

// deliver sends the newest items to one subscriber, newest first, capped at
// DeliveryCap with a trailing summary of what was held back. Send failures
// are logged and do not stop the rest of the batch.
func (e *Engine) deliver(ctx context.Context, sub registry.Subscriber, fresh []feed.Item) {
	shown := fresh
	if len(shown) > e.cfg.DeliveryCap {
		shown = shown[:e.cfg.DeliveryCap]
	}
	for _, it := range shown {
		if err := e.send(ctx, sub.Destination, e.render.Post(it, sub.FeedKey)); err != nil {
			e.slog.Warn("sending post", "feed", sub.FeedKey, "destination", sub.Destination, "item", it.ID, "error", err)
		}
	}
	if hidden := len(fresh) - len(shown); hidden > 0 {
		if err := e.send(ctx, sub.Destination, e.render.Summary(hidden, sub.FeedKey)); err != nil {
			e.slog.Warn("sending summary", "feed", sub.FeedKey, "destination", sub.Destination, "error", err)
		}
	}
}

func (e *Engine) send(ctx context.Context, destination, text string) error {
	if err := e.sink.Send(ctx, destination, text); err != nil {
		return err
	}
	e.stats.Access(func(s *Stats) { s.MessagesSent++ })
	return nil
}
