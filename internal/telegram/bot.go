// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"redditwatch/internal/feed"
	"redditwatch/internal/registry"
)

// Scheduler is the part of the poll engine the bot drives.
type Scheduler interface {
	Track(ctx context.Context, feedKey string) error
	Untrack(ctx context.Context, feedKey string) error
}

// Update is an incoming Bot API update.
// https://core.telegram.org/bots/api#update
type Update struct {
	ID      int64    `json:"update_id"`
	Message *Message `json:"message"`
}

// Message is an incoming chat message.
type Message struct {
	Text string `json:"text"`
	Chat Chat   `json:"chat"`
}

// Chat identifies the chat a message came from.
type Chat struct {
	ID int64 `json:"id"`
}

const helpText = `This bot sends new posts from subreddits you subscribe to.

Available commands:

/sub <subreddit> - Subscribe to receive new posts from a subreddit
/unsub <subreddit> - Unsubscribe from a subreddit
/subslist - Show all subreddit subscriptions for this chat
/latest <subreddit> - Get the latest post from a subreddit without subscribing
/help - Show this help message`

// longPollTimeout is the getUpdates long poll duration in seconds.
const longPollTimeout = 30

// Bot receives chat commands over Bot API long polling and manages
// subscriptions.
type Bot struct {
	client    *Client
	polling   *Client
	reg       *registry.Registry
	scheduler Scheduler
	fetcher   feed.Fetcher
	slog      *slog.Logger

	offset int64

	// now is overridable in tests.
	now func() time.Time
}

// BotOptions configures a [Bot]. All fields except Logger are required.
type BotOptions struct {
	Client    *Client
	Registry  *registry.Registry
	Scheduler Scheduler
	Fetcher   feed.Fetcher
	Logger    *slog.Logger
}

func NewBot(opts BotOptions) *Bot {
	b := &Bot{
		client: opts.Client,
		// getUpdates asks the server to hold the connection for
		// longPollTimeout seconds, so its client deadline must sit
		// beyond that.
		polling:   opts.Client.withTimeout((longPollTimeout + 10) * time.Second),
		reg:       opts.Registry,
		scheduler: opts.Scheduler,
		fetcher:   opts.Fetcher,
		slog:      opts.Logger,
		now:       time.Now,
	}
	if b.slog == nil {
		b.slog = slog.Default()
	}
	return b
}

// Run long polls for updates until ctx is canceled. Update handling errors
// are logged and do not stop the loop.
func (b *Bot) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.slog.Warn("getting updates", "error", err)
			// Back off a little instead of hammering a broken API.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.ID >= b.offset {
				b.offset = u.ID + 1
			}
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]Update, error) {
	args := struct {
		Offset  int64 `json:"offset"`
		Timeout int   `json:"timeout"`
	}{
		Offset:  b.offset,
		Timeout: longPollTimeout,
	}
	return call[[]Update](ctx, b.polling, "getUpdates", args)
}

func (b *Bot) handleUpdate(ctx context.Context, u Update) {
	if u.Message == nil || u.Message.Text == "" {
		return
	}
	chatID := strconv.FormatInt(u.Message.Chat.ID, 10)

	fields := strings.Fields(u.Message.Text)
	if len(fields) == 0 {
		return
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	var arg string
	if len(fields) > 1 {
		arg = fields[1]
	}

	var err error
	switch cmd {
	case "/start":
		err = b.client.SendPlain(ctx, chatID, "Welcome! Use /help to see available commands.")
	case "/help":
		err = b.client.SendPlain(ctx, chatID, helpText)
	case "/sub":
		err = b.subscribe(ctx, chatID, arg)
	case "/unsub":
		err = b.unsubscribe(ctx, chatID, arg)
	case "/subslist":
		err = b.listSubscriptions(ctx, chatID)
	case "/latest":
		err = b.latest(ctx, chatID, arg)
	default:
		return
	}
	if err != nil {
		b.slog.Warn("handling command", "command", cmd, "chat_id", chatID, "error", err)
	}
}

func (b *Bot) subscribe(ctx context.Context, chatID, name string) error {
	key := feed.CanonicalKey(name)
	if key == "" {
		return b.client.SendPlain(ctx, chatID, "Please provide a subreddit name. Usage: /sub SUBREDDIT_NAME")
	}

	keys, err := b.reg.FeedKeysFor(ctx, chatID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return b.client.SendPlain(ctx, chatID, fmt.Sprintf("You're already subscribed to r/%s in this chat.", key))
		}
	}

	// Only posts published from now on are delivered.
	err = b.reg.Upsert(ctx, registry.Subscriber{
		FeedKey:       key,
		Destination:   chatID,
		LastCheckedAt: b.now(),
	})
	if err != nil {
		return err
	}
	if err := b.scheduler.Track(ctx, key); err != nil {
		return err
	}
	return b.client.SendPlain(ctx, chatID, fmt.Sprintf("Successfully subscribed to r/%s. New posts will be sent to this chat.", key))
}

func (b *Bot) unsubscribe(ctx context.Context, chatID, name string) error {
	key := feed.CanonicalKey(name)
	if key == "" {
		return b.client.SendPlain(ctx, chatID, "Please provide a subreddit name. Usage: /unsub SUBREDDIT_NAME")
	}

	removed, err := b.reg.Remove(ctx, key, chatID)
	if err != nil {
		return err
	}
	if !removed {
		return b.client.SendPlain(ctx, chatID, fmt.Sprintf("You're not subscribed to r/%s in this chat.", key))
	}

	// If that was the last subscriber, the scheduler drops the feed on
	// its next due poll.
	subs, err := b.reg.Subscribers(ctx, key)
	if err == nil && len(subs) == 0 {
		if err := b.scheduler.Untrack(ctx, key); err != nil {
			b.slog.Warn("untracking feed", "feed", key, "error", err)
		}
	}
	return b.client.SendPlain(ctx, chatID, fmt.Sprintf("Successfully unsubscribed from r/%s.", key))
}

func (b *Bot) listSubscriptions(ctx context.Context, chatID string) error {
	keys, err := b.reg.FeedKeysFor(ctx, chatID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return b.client.SendPlain(ctx, chatID, "This chat is not subscribed to any subreddits.")
	}
	var sb strings.Builder
	sb.WriteString("Subreddit subscriptions:\n")
	for _, key := range keys {
		fmt.Fprintf(&sb, "• r/%s\n", key)
	}
	return b.client.SendPlain(ctx, chatID, strings.TrimSuffix(sb.String(), "\n"))
}

func (b *Bot) latest(ctx context.Context, chatID, name string) error {
	key := feed.CanonicalKey(name)
	if key == "" {
		return b.client.SendPlain(ctx, chatID, "Please provide a subreddit name. Usage: /latest SUBREDDIT_NAME")
	}

	items, err := b.fetcher.Fetch(ctx, key)
	if err != nil {
		b.slog.Warn("fetching latest post", "feed", key, "error", err)
		return b.client.SendPlain(ctx, chatID, fmt.Sprintf("Couldn't fetch r/%s. Check the name and try again later.", key))
	}
	if len(items) == 0 {
		return b.client.SendPlain(ctx, chatID, fmt.Sprintf("No posts found in r/%s.", key))
	}

	newest := items[0]
	for _, it := range items[1:] {
		if it.PublishedAt.After(newest.PublishedAt) {
			newest = it
		}
	}
	var render Renderer
	return b.client.Send(ctx, chatID, render.Post(newest, key))
}
