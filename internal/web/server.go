// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web exposes account registration and login over HTTP.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/samber/oops"

	"github.com/holomush/blackfortress/internal/account"
	"github.com/holomush/blackfortress/internal/ratelimit"
)

// Server defaults.
const (
	DefaultMaxBodyBytes    = 1 << 20
	DefaultShutdownTimeout = 10 * time.Second
)

// Route paths.
const (
	RouteRegister = "/api/auth/register"
	RouteLogin    = "/api/auth/login"
	RouteHealth   = "/api/health"
)

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, in account.RegisterInput) (*account.Profile, error)
}

// Authenticator verifies credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, password string) (*account.LoginResult, error)
}

// RequestObserver records per-route request outcomes.
type RequestObserver interface {
	ObserveRequest(route string, status int)
	ObserveRateLimited(route string)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker func(ctx context.Context) error

// Config wires a Server.
type Config struct {
	Registrar     Registrar
	Authenticator Authenticator
	// Limiter guards the auth routes; nil disables rate limiting.
	Limiter ratelimit.Limiter
	// Observer defaults to a no-op.
	Observer RequestObserver
	// Health backs GET /api/health; nil always reports ok.
	Health HealthChecker
	Logger *slog.Logger
	// Version is reported by the health route.
	Version string
	// AllowedOrigins lists CORS origins permitted to call the API.
	AllowedOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy      bool
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server is the HTTP API.
type Server struct {
	cfg       Config
	router    *httprouter.Router
	handler   http.Handler
	startedAt time.Time
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Registrar == nil {
		return nil, oops.Errorf("registrar is required")
	}
	if cfg.Authenticator == nil {
		return nil, oops.Errorf("authenticator is required")
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{cfg: cfg, router: httprouter.New(), startedAt: cfg.Now()}
	s.routes()
	s.handler = s.securityHeaders(s.cors(s.router))
	return s, nil
}

func (s *Server) routes() {
	s.router.POST(RouteRegister, s.observe(RouteRegister, s.rateLimit(RouteRegister, s.handleRegister)))
	s.router.POST(RouteLogin, s.observe(RouteLogin, s.rateLimit(RouteLogin, s.handleLogin)))
	s.router.GET(RouteHealth, s.observe(RouteHealth, s.handleHealth))

	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errorBody{
			Code:    CodeNotFound,
			Message: "Cannot " + r.Method + " " + r.URL.Path,
		})
	})
	s.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errorBody{
			Code:    CodeMethodNotAllowed,
			Message: "Method " + r.Method + " is not allowed on " + r.URL.Path,
		})
	})
	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.cfg.Logger.ErrorContext(r.Context(), "handler panic",
			"method", r.Method,
			"path", r.URL.Path,
			"panic", v)
		writeInternalError(w)
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.cfg.Logger.Info("http server started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if err != nil {
			return oops.Code("HTTP_SERVE_FAILED").With("addr", ln.Addr().String()).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.With("operation", "shutdown_http_server").Wrap(err)
	}
	<-errCh
	s.cfg.Logger.Info("http server stopped")
	return nil
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int) {}
func (nopObserver) ObserveRateLimited(string)  {}
