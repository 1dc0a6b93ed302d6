// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package ratelimit provides fixed-window request limiters keyed by client,
// backed by Redis or by process memory.
package ratelimit

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// Default limits for the authentication routes.
const (
	DefaultMax    = 10
	DefaultWindow = 15 * time.Minute
)

// Decision is the result of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the time until the current window resets.
	RetryAfter time.Duration
}

// Limiter counts requests per key within a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config sets the window size and the number of requests it admits.
type Config struct {
	Max    int
	Window time.Duration
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	if c.Max <= 0 {
		return oops.Code("RATELIMIT_CONFIG_INVALID").With("max", c.Max).Errorf("max must be positive")
	}
	if c.Window <= 0 {
		return oops.Code("RATELIMIT_CONFIG_INVALID").With("window", c.Window).Errorf("window must be positive")
	}
	return nil
}

// decide turns the count within a window into a Decision.
func decide(cfg Config, count int, resetIn time.Duration) Decision {
	d := Decision{
		Allowed:    count <= cfg.Max,
		Limit:      cfg.Max,
		Remaining:  max(cfg.Max-count, 0),
		RetryAfter: resetIn,
	}
	return d
}
