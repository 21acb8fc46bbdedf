// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"redditwatch/internal/testutil"
)

const tgToken = "1442:test"

// botAPI is a fake Bot API server recording sent messages.
type botAPI struct {
	mu   sync.Mutex
	sent []map[string]any

	// overrides replace the default sendMessage handler when set.
	sendMessage http.HandlerFunc
}

func (api *botAPI) messages() []map[string]any {
	api.mu.Lock()
	defer api.mu.Unlock()
	return append([]map[string]any(nil), api.sent...)
}

func testClient(t *testing.T, api *botAPI) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{token}/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, strings.TrimPrefix(r.PathValue("token"), "bot"), tgToken)
		if api.sendMessage != nil {
			api.sendMessage(w, r)
			return
		}
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		api.mu.Lock()
		api.sent = append(api.sent, testutil.UnmarshalJSON[map[string]any](t, b))
		api.mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{}}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	c := NewClient(tgToken, WithAPIURL(ts.URL), WithHTTPClient(ts.Client()))
	c.sleep = func(time.Duration) {}
	return c
}

func TestClientSend(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	c := testClient(t, api)

	if err := c.Send(t.Context(), "123", `*hello*`); err != nil {
		t.Fatal(err)
	}

	msgs := api.messages()
	testutil.AssertEqual(t, len(msgs), 1)
	testutil.AssertEqual(t, msgs[0]["chat_id"], "123")
	testutil.AssertEqual(t, msgs[0]["text"], "*hello*")
	testutil.AssertEqual(t, msgs[0]["parse_mode"], "MarkdownV2")
}

func TestClientSendPlain(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	c := testClient(t, api)

	if err := c.SendPlain(t.Context(), "123", "hello"); err != nil {
		t.Fatal(err)
	}

	msgs := api.messages()
	testutil.AssertEqual(t, len(msgs), 1)
	if _, ok := msgs[0]["parse_mode"]; ok {
		t.Fatal("plain message has parse_mode set")
	}
}

func TestClientSendRetriesRateLimit(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	var calls int
	api.sendMessage = func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"parameters":{"retry_after":1}}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}
	c := testClient(t, api)

	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	if err := c.Send(t.Context(), "123", "hello"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, calls, 3)
	testutil.AssertEqual(t, slept, []time.Duration{time.Second, time.Second})
}

func TestClientSendGivesUpOnHardError(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	var calls int
	api.sendMessage = func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"can't parse entities"}`))
	}
	c := testClient(t, api)

	if err := c.Send(t.Context(), "123", "hello"); err == nil {
		t.Fatal("want error, got nil")
	}
	testutil.AssertEqual(t, calls, 1)
}

func TestClientScrubsToken(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	api.sendMessage = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}
	c := testClient(t, api)

	err := c.Send(t.Context(), "123", "hello")
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if strings.Contains(err.Error(), tgToken) {
		t.Fatalf("error message contains bot token: %v", err)
	}
}
