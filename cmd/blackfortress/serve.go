// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/blackfortress/internal/account"
	"github.com/holomush/blackfortress/internal/account/memory"
	"github.com/holomush/blackfortress/internal/account/postgres"
	"github.com/holomush/blackfortress/internal/config"
	"github.com/holomush/blackfortress/internal/logging"
	"github.com/holomush/blackfortress/internal/observability"
	"github.com/holomush/blackfortress/internal/ratelimit"
	"github.com/holomush/blackfortress/internal/store"
	"github.com/holomush/blackfortress/internal/web"
)

// observabilityStopTimeout bounds the observability server shutdown.
const observabilityStopTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API serving account registration, login and health
routes, plus the observability server when a metrics address is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, deps)
		},
	}

	flags := cmd.Flags()
	flags.String("store", config.StorePostgres, "account store (postgres or memory)")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.Bool("auto-migrate", false, "apply pending migrations before serving")
	flags.String("http-addr", ":5000", "API listen address")
	flags.String("metrics-addr", "127.0.0.1:9100", "observability listen address (empty disables)")
	flags.String("log-format", "json", "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("redis-addr", "", "Redis address for shared rate limit counters")
	flags.Bool("no-rate-limit", false, "disable rate limiting on auth routes")

	return cmd
}

func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	cfg, err := config.Load(loadOptions(cmd))
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Service: "blackfortress",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("starting blackfortress", "version", version, "store", cfg.Store)

	if cfg.Store == config.StorePostgres && cfg.Database.AutoMigrate {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			return err
		}
	}

	accounts, err := deps.StoreOpener(ctx, cfg.Store, cfg.Database.URL, store.ConnectOptions{
		Timeout:    cfg.Database.ConnectTimeout,
		MaxRetries: uint64(cfg.Database.MaxRetries), //nolint:gosec // validated non-negative
		BaseDelay:  store.DefaultConnectOptions().BaseDelay,
	})
	if err != nil {
		return err
	}
	defer accounts.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics, stopObservability, err := startObservability(ctx, cancel, cfg, accounts.Ping, deps, logger)
	if err != nil {
		return err
	}
	defer stopObservability()

	limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimit, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	hasher, err := account.NewPasswordHasher(cfg.Auth.Hasher, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	issuer, err := account.NewJWTIssuer([]byte(cfg.Token.Secret), cfg.Token.Issuer, cfg.Token.TTL)
	if err != nil {
		return err
	}

	opts := []account.Option{
		account.WithLogger(logger),
		account.WithLockoutPolicy(cfg.LockoutPolicy()),
		account.WithObserver(metrics),
	}
	registrar, err := account.NewRegistrar(accounts.Accounts, hasher, opts...)
	if err != nil {
		return err
	}
	authenticator, err := account.NewAuthenticator(accounts.Accounts, hasher, issuer, opts...)
	if err != nil {
		return err
	}

	srv, err := web.New(web.Config{
		Registrar:       registrar,
		Authenticator:   authenticator,
		Limiter:         limiter,
		Observer:        metrics,
		Health:          web.HealthChecker(accounts.Ping),
		Logger:          logger,
		Version:         version,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		TrustProxy:      cfg.HTTP.TrustProxy,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	ln, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	logger.Info("http server listening", "addr", ln.Addr().String())
	deps.OnListen(ln.Addr())

	if err := srv.Serve(ctx, ln); err != nil {
		return err
	}
	logger.Info("blackfortress stopped")
	return nil
}

// runAutoMigration applies pending migrations and always closes the migrator.
func runAutoMigration(url string, factory func(string) (AutoMigrator, error), logger *slog.Logger) error {
	migrator, err := factory(url)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// openStore opens the account repository named by storeKind.
func openStore(ctx context.Context, storeKind, databaseURL string, opts store.ConnectOptions) (*AccountStore, error) {
	if storeKind == config.StoreMemory {
		return &AccountStore{Accounts: memory.NewRepository(), Close: func() {}}, nil
	}

	pool, err := store.Connect(ctx, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	return &AccountStore{
		Accounts: postgres.NewRepository(pool),
		Ping:     pool.Ping,
		Close:    pool.Close,
	}, nil
}

// startObservability starts the observability server when an address is
// configured. Without one, metrics go to a private registry nobody scrapes.
func startObservability(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg *config.Config,
	ready observability.ReadinessChecker,
	deps *ServeDeps,
	logger *slog.Logger,
) (*observability.Metrics, func(), error) {
	if cfg.Metrics.Addr == "" {
		return observability.NewMetrics(prometheus.NewRegistry()), func() {}, nil
	}

	obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready, logger)
	errCh, err := obsServer.Start()
	if err != nil {
		return nil, nil, oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, errCh, "observability", logger)

	stop := func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), observabilityStopTimeout)
		defer stopCancel()
		if err := obsServer.Stop(stopCtx); err != nil {
			logger.Warn("failed to stop observability server", "error", err)
		}
	}
	return obsServer.Metrics(), stop, nil
}

// newLimiter builds the auth route limiter. Redis counters are shared
// across replicas; the in-memory limiter is per process.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	if !cfg.Enabled {
		logger.Warn("rate limiting disabled")
		return nil, func() {}, nil
	}

	limits := ratelimit.Config{Max: cfg.Max, Window: cfg.Window}
	var (
		limiter interface {
			ratelimit.Limiter
			io.Closer
		}
		err error
	)
	if cfg.RedisAddr != "" {
		redisLimiter, redisErr := ratelimit.NewRedisLimiter(
			ratelimit.NewPool(cfg.RedisAddr, ratelimit.DefaultPoolOptions()), limits, ratelimit.DefaultKeyPrefix)
		if redisErr == nil {
			if pingErr := redisLimiter.Ping(ctx); pingErr != nil {
				logger.Warn("redis unreachable, rate limiter will fail open until it recovers",
					"addr", cfg.RedisAddr, "error", pingErr)
			}
		}
		limiter, err = redisLimiter, redisErr
	} else {
		limiter, err = ratelimit.NewMemoryLimiter(limits, time.Now)
	}
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		if err := limiter.Close(); err != nil {
			logger.Warn("failed to close rate limiter", "error", err)
		}
	}
	return limiter, closeFn, nil
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
