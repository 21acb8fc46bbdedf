// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"redditwatch/internal/request"
	"redditwatch/internal/version"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

// RedditFetcher fetches the newest posts of a subreddit from its RSS
// endpoint.
//
// A single shared rate limiter paces all fetches: Reddit throttles
// unauthenticated RSS pulls aggressively.
type RedditFetcher struct {
	baseURL string
	httpc   *http.Client
	fp      *gofeed.Parser
	limiter *rate.Limiter
	timeout time.Duration
}

// RedditOptions configure a [RedditFetcher]. The zero value is usable.
type RedditOptions struct {
	// BaseURL overrides the Reddit endpoint, mainly for tests.
	BaseURL string
	// HTTPClient is the HTTP client used for fetching.
	HTTPClient *http.Client
	// RequestsPerMinute limits how many fetches per minute may hit the
	// upstream. Defaults to 30.
	RequestsPerMinute int
	// Timeout bounds a single fetch. Defaults to 30 seconds.
	Timeout time.Duration
}

// NewRedditFetcher returns a [RedditFetcher] with the given options.
func NewRedditFetcher(opts RedditOptions) *RedditFetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.reddit.com"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = request.DefaultClient
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 30
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &RedditFetcher{
		baseURL: opts.BaseURL,
		httpc:   opts.HTTPClient,
		fp:      gofeed.NewParser(),
		limiter: rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60), 1),
		timeout: opts.Timeout,
	}
}

// Fetch retrieves the newest posts of the subreddit identified by key.
func (f *RedditFetcher) Fetch(ctx context.Context, key string) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := f.baseURL + "/r/" + key + "/new/.rss"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	res, err := f.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		const readLimit = 16384 // enough for error messages
		body, _ := io.ReadAll(io.LimitReader(res.Body, readLimit))
		return nil, fmt.Errorf("fetching r/%s: want 200, got %d: %s", key, res.StatusCode, body)
	}

	parsed, err := f.fp.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing r/%s: %w", key, err)
	}
	return itemsFromFeed(parsed), nil
}

func itemsFromFeed(parsed *gofeed.Feed) []Item {
	items := make([]Item, 0, len(parsed.Items))
	for _, fi := range parsed.Items {
		items = append(items, Item{
			ID:          fi.GUID,
			Title:       fi.Title,
			Link:        fi.Link,
			Author:      firstAuthor(fi),
			PublishedAt: publishedAt(fi),
		})
	}
	return items
}

func firstAuthor(fi *gofeed.Item) string {
	for _, a := range fi.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if fi.Author != nil {
		return fi.Author.Name
	}
	return ""
}

func publishedAt(fi *gofeed.Item) time.Time {
	if fi.PublishedParsed != nil {
		return *fi.PublishedParsed
	}
	if fi.UpdatedParsed != nil {
		return *fi.UpdatedParsed
	}
	return time.Time{}
}
