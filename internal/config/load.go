// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/blackfortress/internal/account"
	"github.com/holomush/blackfortress/internal/ratelimit"
	"github.com/holomush/blackfortress/internal/xdg"
)

// EnvPrefix selects the environment variables read by Load.
// BLACKFORTRESS_TOKEN__SECRET sets token.secret.
const EnvPrefix = "BLACKFORTRESS_"

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"store":                    StorePostgres,
		"database.url":             "",
		"database.connect_timeout": 30 * time.Second,
		"database.max_retries":     5,
		"database.auto_migrate":    false,
		"http.addr":                ":5000",
		"http.trust_proxy":         false,
		"http.allowed_origins":     []string{},
		"http.max_body_bytes":      int64(1 << 20),
		"http.shutdown_timeout":    10 * time.Second,
		"metrics.addr":             "127.0.0.1:9100",
		"log.format":               "json",
		"log.level":                "info",
		"auth.hasher":              account.HasherBcrypt,
		"auth.bcrypt_cost":         account.DefaultBcryptCost,
		"auth.lockout_threshold":   account.DefaultLockoutThreshold,
		"auth.lockout_duration":    account.DefaultLockoutDuration,
		"token.secret":             "",
		"token.issuer":             account.DefaultTokenIssuer,
		"token.ttl":                account.DefaultTokenTTL,
		"ratelimit.enabled":        true,
		"ratelimit.redis_addr":     "",
		"ratelimit.max":            ratelimit.DefaultMax,
		"ratelimit.window":         ratelimit.DefaultWindow,
	}
}

// flagKeys maps command-line flag names to configuration keys. Flags not
// listed are ignored by the loader.
var flagKeys = map[string]string{
	"store":         "store",
	"database-url":  "database.url",
	"auto-migrate":  "database.auto_migrate",
	"http-addr":     "http.addr",
	"metrics-addr":  "metrics.addr",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"redis-addr":    "ratelimit.redis_addr",
	"no-rate-limit": "ratelimit.enabled",
}

// Options controls Load.
type Options struct {
	// File is an explicit config path; it must exist. When empty the XDG
	// config file is read if present.
	File string
	// Flags are applied last; only flags set on the command line override
	// earlier layers.
	Flags *pflag.FlagSet
}

// Load builds the configuration from every layer and validates it.
func Load(opts Options) (*Config, error) {
	cfg, err := load(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated builds the configuration without validating it.
func LoadUnvalidated(opts Options) (*Config, error) {
	return load(opts)
}

func load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code(CodeInvalid).With("layer", "defaults").Wrap(err)
	}

	path, required := opts.File, true
	if path == "" {
		path, required = xdg.ConfigFile(), false
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code(CodeInvalid).With("layer", "file").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code(CodeInvalid).With("layer", "env").Wrap(err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, flagValue), nil); err != nil {
			return nil, oops.Code(CodeInvalid).With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).With("layer", "unmarshal").Wrap(err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// envKey turns BLACKFORTRESS_RATELIMIT__REDIS_ADDR into ratelimit.redis_addr.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func flagValue(f *pflag.Flag) (string, any) {
	key, ok := flagKeys[f.Name]
	if !ok {
		return "", nil
	}
	if f.Name == "no-rate-limit" {
		return key, f.Value.String() != "true"
	}
	return key, f.Value.String()
}
