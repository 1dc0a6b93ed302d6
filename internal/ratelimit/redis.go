// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ratelimit

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/samber/oops"
)

// DefaultKeyPrefix namespaces limiter keys in Redis.
const DefaultKeyPrefix = "blackfortress:ratelimit:"

// fixedWindow increments the counter for KEYS[1], starting its expiry on the
// first hit of a window, and returns the count and the milliseconds left.
var fixedWindow = redis.NewScript(1, `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// PoolOptions configures NewPool.
type PoolOptions struct {
	MaxIdle        int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

// DefaultPoolOptions returns the pool settings used by the server.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxIdle:        8,
		IdleTimeout:    4 * time.Minute,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewPool creates a redigo connection pool for addr ("host:port").
func NewPool(addr string, opts PoolOptions) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     opts.MaxIdle,
		IdleTimeout: opts.IdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			//nolint:wrapcheck // pool surfaces dial errors to Allow, which wraps them
			return redis.DialContext(ctx, "tcp", addr,
				redis.DialConnectTimeout(opts.ConnectTimeout))
		},
		TestOnBorrow: func(c redis.Conn, lastUsed time.Time) error {
			if time.Since(lastUsed) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			//nolint:wrapcheck // see DialContext
			return err
		},
	}
}

// RedisLimiter is a fixed-window limiter shared by every process using the
// same Redis.
type RedisLimiter struct {
	pool   *redis.Pool
	cfg    Config
	prefix string
}

// NewRedisLimiter creates a RedisLimiter. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisLimiter(pool *redis.Pool, cfg Config, prefix string) (*RedisLimiter, error) {
	if pool == nil {
		return nil, oops.Errorf("redis pool is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisLimiter{pool: pool, cfg: cfg, prefix: prefix}, nil
}

// Allow counts one request for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return Decision{}, oops.Code("RATELIMIT_UNAVAILABLE").With("operation", "get connection").Wrap(err)
	}
	defer func() { _ = conn.Close() }()

	reply, err := redis.Int64s(fixedWindow.Do(conn, l.prefix+key, l.cfg.Window.Milliseconds()))
	if err != nil {
		return Decision{}, oops.Code("RATELIMIT_UNAVAILABLE").With("operation", "count request").Wrap(err)
	}
	if len(reply) != 2 {
		return Decision{}, oops.Code("RATELIMIT_UNAVAILABLE").With("reply", reply).Errorf("unexpected script reply")
	}
	return decide(l.cfg, int(reply[0]), time.Duration(reply[1])*time.Millisecond), nil
}

// Ping checks that Redis is reachable.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return oops.Code("RATELIMIT_UNAVAILABLE").Wrap(err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := redis.DoContext(conn, ctx, "PING"); err != nil {
		return oops.Code("RATELIMIT_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Close releases the pool.
func (l *RedisLimiter) Close() error {
	if err := l.pool.Close(); err != nil {
		return oops.Wrap(err)
	}
	return nil
}
