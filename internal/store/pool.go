// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tunes startup connection retries.
type ConnectOptions struct {
	// Timeout bounds the whole connect-and-ping sequence.
	Timeout time.Duration
	// MaxRetries is the number of ping retries after the first attempt.
	MaxRetries uint64
	// BaseDelay is the first backoff interval; later ones double.
	BaseDelay time.Duration
}

// DefaultConnectOptions returns the bootstrap retry policy.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Timeout:    30 * time.Second,
		MaxRetries: 5,
		BaseDelay:  250 * time.Millisecond,
	}
}

// Connect opens a pgx pool and pings it until the database answers. Only the
// process bootstrap retries; request-path operations never do.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	base := opts.BaseDelay
	if base <= 0 {
		base = DefaultConnectOptions().BaseDelay
	}
	backoff := retry.WithMaxRetries(opts.MaxRetries, retry.NewExponential(base))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			slog.Warn("database not ready", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}
