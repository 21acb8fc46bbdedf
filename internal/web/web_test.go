// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"redditwatch/internal/poll"
	"redditwatch/internal/registry"
	"redditwatch/internal/store"
	"redditwatch/internal/testutil"
)

func testServer(t *testing.T) (*Server, *registry.Registry, *poll.StateStore, *poll.DueQueue) {
	t.Helper()
	s := store.NewMemStore()
	reg := registry.New(s)
	states := poll.NewStateStore(s, poll.Config{})
	queue := poll.NewDueQueue()
	engine := poll.NewEngine(poll.Options{
		Registry: reg,
		States:   states,
		Queue:    queue,
	})
	srv := NewServer(Config{
		Addr:     "localhost:0",
		Registry: reg,
		States:   states,
		Queue:    queue,
		Engine:   engine,
	})
	return srv, reg, states, queue
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := testServer(t)
	srv.Health().RegisterFunc("store", func() (string, bool) { return "ok", true })

	w := get(t, srv, "/health")
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	resp := testutil.UnmarshalJSON[HealthResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, resp.OK, true)
	testutil.AssertEqual(t, resp.Checks["store"].Status, "ok")
}

func TestHealthFailingCheck(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := testServer(t)
	srv.Health().RegisterFunc("store", func() (string, bool) { return "connection refused", false })

	w := get(t, srv, "/health")
	testutil.AssertEqual(t, w.Code, http.StatusInternalServerError)
	resp := testutil.UnmarshalJSON[HealthResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, resp.OK, false)
}

func TestFeeds(t *testing.T) {
	t.Parallel()

	srv, reg, states, queue := testServer(t)
	ctx := t.Context()
	if err := reg.Upsert(ctx, registry.Subscriber{FeedKey: "golang", Destination: "123"}); err != nil {
		t.Fatal(err)
	}
	st, err := states.Initialize(ctx, "golang")
	if err != nil {
		t.Fatal(err)
	}
	queue.Upsert("golang", st.NextPollAt)

	w := get(t, srv, "/api/feeds")
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	views := testutil.UnmarshalJSON[[]feedView](t, w.Body.Bytes())
	testutil.AssertEqual(t, len(views), 1)
	testutil.AssertEqual(t, views[0].FeedKey, "golang")
	testutil.AssertEqual(t, views[0].Subscribers, 1)
	testutil.AssertEqual(t, views[0].Queued, true)
}

func TestFeedsEmpty(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := testServer(t)
	w := get(t, srv, "/api/feeds")
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	testutil.AssertEqual(t, len(testutil.UnmarshalJSON[[]feedView](t, w.Body.Bytes())), 0)
}

func TestFeedByKey(t *testing.T) {
	t.Parallel()

	srv, _, states, _ := testServer(t)
	if _, err := states.Initialize(t.Context(), "golang"); err != nil {
		t.Fatal(err)
	}

	w := get(t, srv, "/api/feeds/golang")
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	view := testutil.UnmarshalJSON[feedView](t, w.Body.Bytes())
	testutil.AssertEqual(t, view.FeedKey, "golang")

	w = get(t, srv, "/api/feeds/unknown")
	testutil.AssertEqual(t, w.Code, http.StatusNotFound)
}

func TestStats(t *testing.T) {
	t.Parallel()

	srv, _, _, queue := testServer(t)
	queue.Upsert("golang", time.Now())

	w := get(t, srv, "/api/stats")
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	resp := testutil.UnmarshalJSON[map[string]any](t, w.Body.Bytes())
	testutil.AssertEqual(t, resp["status"], "not started")
	testutil.AssertEqual(t, resp["queued"], float64(1))
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := testServer(t)
	w := get(t, srv, "/nonexistent")
	testutil.AssertEqual(t, w.Code, http.StatusNotFound)
}
