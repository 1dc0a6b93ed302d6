// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads layered service configuration: built-in defaults, a
// YAML file, BLACKFORTRESS_* environment variables, then command-line flags.
package config

import (
	"net/url"
	"slices"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/blackfortress/internal/account"
	"github.com/holomush/blackfortress/internal/logging"
)

// Storage backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	Store     string          `koanf:"store" yaml:"store"`
	Database  DatabaseConfig  `koanf:"database" yaml:"database"`
	HTTP      HTTPConfig      `koanf:"http" yaml:"http"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
	Auth      AuthConfig      `koanf:"auth" yaml:"auth"`
	Token     TokenConfig     `koanf:"token" yaml:"token"`
	RateLimit RateLimitConfig `koanf:"ratelimit" yaml:"ratelimit"`
}

// DatabaseConfig configures the PostgreSQL store.
type DatabaseConfig struct {
	URL            string        `koanf:"url" yaml:"url"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
	MaxRetries     int           `koanf:"max_retries" yaml:"max_retries"`
	AutoMigrate    bool          `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr"`
	TrustProxy      bool          `koanf:"trust_proxy" yaml:"trust_proxy"`
	AllowedOrigins  []string      `koanf:"allowed_origins" yaml:"allowed_origins"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// AuthConfig configures hashing and lockout.
type AuthConfig struct {
	Hasher           string        `koanf:"hasher" yaml:"hasher"`
	BcryptCost       int           `koanf:"bcrypt_cost" yaml:"bcrypt_cost"`
	LockoutThreshold int           `koanf:"lockout_threshold" yaml:"lockout_threshold"`
	LockoutDuration  time.Duration `koanf:"lockout_duration" yaml:"lockout_duration"`
}

// TokenConfig configures session tokens.
type TokenConfig struct {
	Secret string        `koanf:"secret" yaml:"secret"`
	Issuer string        `koanf:"issuer" yaml:"issuer"`
	TTL    time.Duration `koanf:"ttl" yaml:"ttl"`
}

// RateLimitConfig configures the auth route limiter. An empty Redis address
// keeps counters in process memory.
type RateLimitConfig struct {
	Enabled   bool          `koanf:"enabled" yaml:"enabled"`
	RedisAddr string        `koanf:"redis_addr" yaml:"redis_addr"`
	Max       int           `koanf:"max" yaml:"max"`
	Window    time.Duration `koanf:"window" yaml:"window"`
}

// LockoutPolicy returns the configured lockout policy.
func (c *Config) LockoutPolicy() account.LockoutPolicy {
	return account.LockoutPolicy{
		Threshold: c.Auth.LockoutThreshold,
		Duration:  c.Auth.LockoutDuration,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !slices.Contains([]string{StorePostgres, StoreMemory}, c.Store) {
		return invalid("store", c.Store, "store must be postgres or memory")
	}
	if c.Store == StorePostgres && c.Database.URL == "" {
		return invalid("database.url", "", "database url is required for the postgres store")
	}
	if c.Database.ConnectTimeout <= 0 {
		return invalid("database.connect_timeout", c.Database.ConnectTimeout, "connect timeout must be positive")
	}
	if c.Database.MaxRetries < 0 {
		return invalid("database.max_retries", c.Database.MaxRetries, "max retries cannot be negative")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "", "http address is required")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return invalid("http.max_body_bytes", c.HTTP.MaxBodyBytes, "max body bytes must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return invalid("http.shutdown_timeout", c.HTTP.ShutdownTimeout, "shutdown timeout must be positive")
	}
	if _, err := logging.New(logging.Options{Format: c.Log.Format, Level: c.Log.Level}); err != nil {
		return oops.Code(CodeInvalid).With("key", "log").Wrap(err)
	}
	if _, err := account.NewPasswordHasher(c.Auth.Hasher, c.Auth.BcryptCost); err != nil {
		return oops.Code(CodeInvalid).With("key", "auth").Wrap(err)
	}
	if err := c.LockoutPolicy().Validate(); err != nil {
		return oops.Code(CodeInvalid).With("key", "auth").Wrap(err)
	}
	if len(c.Token.Secret) < account.MinTokenSecretLength {
		return invalid("token.secret", "", "token secret must be at least 32 bytes")
	}
	if c.Token.TTL <= 0 {
		return invalid("token.ttl", c.Token.TTL, "token ttl must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Max <= 0 {
			return invalid("ratelimit.max", c.RateLimit.Max, "rate limit max must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return invalid("ratelimit.window", c.RateLimit.Window, "rate limit window must be positive")
		}
	}
	return nil
}

// Redacted returns a copy safe to print: the token secret is masked and the
// database password removed from the URL.
func (c Config) Redacted() Config {
	if c.Token.Secret != "" {
		c.Token.Secret = logging.Redacted
	}
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err == nil {
			c.Database.URL = u.Redacted()
		} else {
			c.Database.URL = logging.Redacted
		}
	}
	c.HTTP.AllowedOrigins = slices.Clone(c.HTTP.AllowedOrigins)
	return c
}

// CodeInvalid marks configuration errors.
const CodeInvalid = "CONFIG_INVALID"

func invalid(key string, value any, msg string) error {
	return oops.Code(CodeInvalid).
		With("key", key).
		With("value", value).
		Errorf("%s", msg)
}
