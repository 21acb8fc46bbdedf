// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"redditwatch/internal/feed"
	"redditwatch/internal/registry"
	"redditwatch/internal/store"
	"redditwatch/internal/testutil"
)

type stubScheduler struct {
	tracked   []string
	untracked []string
}

func (s *stubScheduler) Track(ctx context.Context, feedKey string) error {
	s.tracked = append(s.tracked, feedKey)
	return nil
}

func (s *stubScheduler) Untrack(ctx context.Context, feedKey string) error {
	s.untracked = append(s.untracked, feedKey)
	return nil
}

type stubFetcher struct {
	items []feed.Item
	err   error
}

func (f *stubFetcher) Fetch(ctx context.Context, feedKey string) ([]feed.Item, error) {
	return f.items, f.err
}

type botFixture struct {
	bot       *Bot
	api       *botAPI
	reg       *registry.Registry
	scheduler *stubScheduler
	fetcher   *stubFetcher
}

func testBot(t *testing.T) *botFixture {
	t.Helper()
	fx := &botFixture{
		api:       &botAPI{},
		reg:       registry.New(store.NewMemStore()),
		scheduler: &stubScheduler{},
		fetcher:   &stubFetcher{},
	}
	fx.bot = NewBot(BotOptions{
		Client:    testClient(t, fx.api),
		Registry:  fx.reg,
		Scheduler: fx.scheduler,
		Fetcher:   fx.fetcher,
	})
	return fx
}

func (fx *botFixture) message(t *testing.T, text string) {
	t.Helper()
	fx.bot.handleUpdate(t.Context(), Update{
		ID:      1,
		Message: &Message{Text: text, Chat: Chat{ID: 123}},
	})
}

// lastReply returns the text of the most recent sent message.
func (fx *botFixture) lastReply(t *testing.T) string {
	t.Helper()
	msgs := fx.api.messages()
	if len(msgs) == 0 {
		t.Fatal("no messages sent")
	}
	return msgs[len(msgs)-1]["text"].(string)
}

func TestBotLongPollClientOutlastsPoll(t *testing.T) {
	t.Parallel()

	fx := testBot(t)

	// The server holds getUpdates open for longPollTimeout seconds, so
	// the polling request deadline has to sit beyond that.
	if got, min := fx.bot.polling.httpc.Timeout, longPollTimeout*time.Second; got <= min {
		t.Fatalf("getUpdates client timeout = %v, want > %v", got, min)
	}
	// Regular sends keep the caller's client and its deadline.
	if fx.bot.client.httpc == fx.bot.polling.httpc {
		t.Fatal("sendMessage shares the long poll HTTP client")
	}
	testutil.AssertEqual(t, fx.bot.polling.apiURL, fx.bot.client.apiURL)
	testutil.AssertEqual(t, fx.bot.polling.token, fx.bot.client.token)
}

func TestBotSubscribe(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/sub r/GoLang")

	testutil.AssertEqual(t, fx.scheduler.tracked, []string{"golang"})
	testutil.AssertEqual(t, fx.lastReply(t), "Successfully subscribed to r/golang. New posts will be sent to this chat.")

	subs, err := fx.reg.Subscribers(t.Context(), "golang")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(subs), 1)
	testutil.AssertEqual(t, subs[0].Destination, "123")
}

func TestBotSubscribeTwice(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/sub golang")
	fx.message(t, "/sub golang")

	testutil.AssertEqual(t, fx.scheduler.tracked, []string{"golang"})
	testutil.AssertEqual(t, fx.lastReply(t), "You're already subscribed to r/golang in this chat.")
}

func TestBotSubscribeUsage(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/sub")

	testutil.AssertEqual(t, len(fx.scheduler.tracked), 0)
	testutil.AssertEqual(t, fx.lastReply(t), "Please provide a subreddit name. Usage: /sub SUBREDDIT_NAME")
}

func TestBotCommandWithBotName(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/sub@redditwatch_bot golang")

	testutil.AssertEqual(t, fx.scheduler.tracked, []string{"golang"})
}

func TestBotUnsubscribe(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/sub golang")
	fx.message(t, "/unsub golang")

	// Last subscriber gone: the feed leaves the schedule too.
	testutil.AssertEqual(t, fx.scheduler.untracked, []string{"golang"})
	testutil.AssertEqual(t, fx.lastReply(t), "Successfully unsubscribed from r/golang.")
}

func TestBotUnsubscribeNotSubscribed(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/unsub golang")

	testutil.AssertEqual(t, len(fx.scheduler.untracked), 0)
	testutil.AssertEqual(t, fx.lastReply(t), "You're not subscribed to r/golang in this chat.")
}

func TestBotListSubscriptions(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/subslist")
	testutil.AssertEqual(t, fx.lastReply(t), "This chat is not subscribed to any subreddits.")

	fx.message(t, "/sub golang")
	fx.message(t, "/sub rust")
	fx.message(t, "/subslist")
	testutil.AssertEqual(t, fx.lastReply(t), "Subreddit subscriptions:\n• r/golang\n• r/rust")
}

func TestBotLatest(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	base := time.Date(2025, time.June, 25, 12, 0, 0, 0, time.UTC)
	fx.fetcher.items = []feed.Item{
		{ID: "t3_p1", Title: "Older", Link: "https://example.com/1", PublishedAt: base.Add(-time.Hour)},
		{ID: "t3_p2", Title: "Newest", Link: "https://example.com/2", PublishedAt: base},
	}
	fx.message(t, "/latest golang")

	msgs := fx.api.messages()
	last := msgs[len(msgs)-1]
	testutil.AssertEqual(t, last["parse_mode"], "MarkdownV2")
	if !strings.Contains(last["text"].(string), "Newest") {
		t.Fatalf("latest reply = %q, want the newest post", last["text"])
	}
}

func TestBotLatestFetchError(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.fetcher.err = errors.New("reddit returned 503")
	fx.message(t, "/latest golang")

	testutil.AssertEqual(t, fx.lastReply(t), "Couldn't fetch r/golang. Check the name and try again later.")
}

func TestBotLatestEmptyFeed(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/latest golang")

	testutil.AssertEqual(t, fx.lastReply(t), "No posts found in r/golang.")
}

func TestBotIgnoresUnknownCommands(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/frobnicate")
	fx.message(t, "hello there")

	testutil.AssertEqual(t, len(fx.api.messages()), 0)
}

func TestBotHelp(t *testing.T) {
	t.Parallel()

	fx := testBot(t)
	fx.message(t, "/help")

	if !strings.Contains(fx.lastReply(t), "/sub <subreddit>") {
		t.Fatalf("help reply = %q", fx.lastReply(t))
	}
}
