// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements the Telegram Bot API surface: a message
// sending client, a MarkdownV2 renderer and the inbound command bot.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"redditwatch/internal/request"
	"redditwatch/internal/version"
)

const (
	defaultAPIURL = "https://api.telegram.org"

	// sendRetryLimit bounds retries of a rate-limited sendMessage call.
	sendRetryLimit = 5
)

// Client talks to the Telegram Bot API.
type Client struct {
	token    string
	apiURL   string
	httpc    *http.Client
	scrubber *strings.Replacer

	// sleep is overridable in tests.
	sleep func(time.Duration)
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithAPIURL points the client at a different Bot API server. Used in
// tests.
func WithAPIURL(url string) ClientOption {
	return func(c *Client) { c.apiURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) { c.httpc = httpc }
}

// NewClient returns a Client authenticated by token. The token is scrubbed
// from errors.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:    token,
		apiURL:   defaultAPIURL,
		httpc:    request.DefaultClient,
		scrubber: strings.NewReplacer(token, "[EXPUNGED]"),
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// withTimeout returns a copy of c whose HTTP client uses the given request
// timeout, keeping the underlying transport.
func (c *Client) withTimeout(d time.Duration) *Client {
	httpc := *c.httpc
	httpc.Timeout = d
	cc := *c
	cc.httpc = &httpc
	return &cc
}

type message struct {
	ChatID             string `json:"chat_id"`
	Text               string `json:"text"`
	ParseMode          string `json:"parse_mode,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// call makes a Bot API request and returns the unwrapped result.
func call[Result any](ctx context.Context, c *Client, method string, args any) (Result, error) {
	type apiResponse struct {
		OK     bool   `json:"ok"`
		Result Result `json:"result"`
	}
	resp, err := request.MakeJSON[apiResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.apiURL + "/bot" + c.token + "/" + method,
		Body:   args,
		Headers: map[string]string{
			"User-Agent": version.UserAgent(),
		},
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		var zero Result
		return zero, err
	}
	return resp.Result, nil
}

// Send delivers text to a chat as MarkdownV2. It implements the delivery
// sink used by the poll engine; text must already be escaped. Rate-limited
// sends are retried up to [sendRetryLimit] times, waiting the interval the
// Bot API asks for.
func (c *Client) Send(ctx context.Context, destination, text string) error {
	return c.sendMessage(ctx, destination, text, "MarkdownV2")
}

// SendPlain delivers text to a chat without any parse mode.
func (c *Client) SendPlain(ctx context.Context, destination, text string) error {
	return c.sendMessage(ctx, destination, text, "")
}

func (c *Client) sendMessage(ctx context.Context, chatID, text, parseMode string) error {
	msg := message{ChatID: chatID, Text: text, ParseMode: parseMode}
	msg.LinkPreviewOptions.IsDisabled = true
	var err error
	for range sendRetryLimit {
		_, err = call[request.IgnoreResponse](ctx, c, "sendMessage", msg)
		if err == nil {
			return nil
		}
		retryable, wait := isRateLimited(err)
		if !retryable {
			break
		}
		c.sleep(wait)
	}
	return err
}

// isRateLimited reports whether err is a Bot API 429 and how long to wait
// before retrying.
func isRateLimited(err error) (retryable bool, wait time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}
	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}
	if errorResponse.Parameters.RetryAfter <= 0 {
		return false, 0
	}
	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}
