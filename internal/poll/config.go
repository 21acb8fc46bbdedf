// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package poll

import "time"

// Config holds the scheduling knobs. The zero value is usable: every field
// falls back to its default.
type Config struct {
	// BaseInterval is the delay between successful polls of one feed.
	// Defaults to 3 minutes.
	BaseInterval time.Duration
	// MaxInterval caps the backoff delay. Defaults to 30 minutes.
	MaxInterval time.Duration
	// BackoffFactor is the exponential backoff multiplier. Defaults to 2.
	BackoffFactor float64
	// MaxRetries is the number of consecutive failures after which a feed
	// is dropped from scheduling. Defaults to 5.
	MaxRetries int
	// TickInterval is the cadence of the scheduling loop. Defaults to 1
	// second.
	TickInterval time.Duration
	// DeliveryCap is the maximum number of items sent to one subscriber
	// per poll; the rest is summarized. Defaults to 5.
	DeliveryCap int
}

func (c Config) withDefaults() Config {
	if c.BaseInterval <= 0 {
		c.BaseInterval = 3 * time.Minute
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Minute
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.DeliveryCap <= 0 {
		c.DeliveryCap = 5
	}
	return c
}
