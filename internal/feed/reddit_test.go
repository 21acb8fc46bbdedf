// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package feed

import (
	_ "embed"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"redditwatch/internal/testutil"
)

var update = flag.Bool("update", false, "update golden files in testdata")

//go:embed testdata/golang.xml
var golangFeed []byte

func TestCanonicalKey(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"golang":      "golang",
		"GoLang":      "golang",
		"r/golang":    "golang",
		"/r/golang":   "golang",
		"R/Golang":    "golang",
		" r/golang ":  "golang",
		"programming": "programming",
	}
	for raw, want := range cases {
		testutil.AssertEqual(t, CanonicalKey(raw), want)
		// Idempotence.
		testutil.AssertEqual(t, CanonicalKey(CanonicalKey(raw)), want)
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /r/golang/new/.rss", func(w http.ResponseWriter, r *http.Request) {
		w.Write(golangFeed)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f := NewRedditFetcher(RedditOptions{
		BaseURL:           ts.URL,
		HTTPClient:        ts.Client(),
		RequestsPerMinute: 6000,
	})

	items, err := f.Fetch(t.Context(), "golang")
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, len(items), 3)
	testutil.AssertEqual(t, items[0].ID, "t3_p3")
	testutil.AssertEqual(t, items[0].Title, "Go 1.23 released")
	testutil.AssertEqual(t, items[0].Author, "/u/gopher")
	testutil.AssertEqual(t, items[0].Link, "https://www.reddit.com/r/golang/comments/p3/")
	testutil.AssertEqual(t, items[0].PublishedAt, time.Date(2025, 6, 25, 11, 0, 0, 0, time.UTC))
}

func TestParseFeeds(t *testing.T) {
	t.Parallel()

	testutil.RunGolden(t, "testdata/*.xml", func(t *testing.T, match string) []byte {
		f, err := os.Open(match)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		parsed, err := gofeed.NewParser().Parse(f)
		if err != nil {
			t.Fatal(err)
		}

		b, err := json.MarshalIndent(itemsFromFeed(parsed), "", "  ")
		if err != nil {
			t.Fatal(err)
		}
		return b
	}, *update)
}

func TestFetchUpstreamError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /r/golang/new/.rss", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "you are rate limited", http.StatusTooManyRequests)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f := NewRedditFetcher(RedditOptions{
		BaseURL:           ts.URL,
		HTTPClient:        ts.Client(),
		RequestsPerMinute: 6000,
	})

	if _, err := f.Fetch(t.Context(), "golang"); err == nil {
		t.Fatal("want error, got nil")
	}
}

func TestFetchMalformedFeed(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /r/golang/new/.rss", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a feed"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f := NewRedditFetcher(RedditOptions{
		BaseURL:           ts.URL,
		HTTPClient:        ts.Client(),
		RequestsPerMinute: 6000,
	})

	if _, err := f.Fetch(t.Context(), "golang"); err == nil {
		t.Fatal("want error, got nil")
	}
}
