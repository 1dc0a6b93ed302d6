// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/blackfortress/internal/account/memory"
	"github.com/holomush/blackfortress/internal/observability"
	"github.com/holomush/blackfortress/internal/store"
	"github.com/holomush/blackfortress/pkg/errutil"
)

const startTimeout = 10 * time.Second

// serveEnv prepares a minimal valid environment for serve.
func serveEnv(t *testing.T) {
	t.Helper()
	isolateEnv(t)
	t.Setenv("BLACKFORTRESS_TOKEN__SECRET", testSecret)
	t.Setenv("BLACKFORTRESS_AUTH__BCRYPT_COST", "4")
}

type runningServe struct {
	baseURL string
	cancel  context.CancelFunc
	done    chan error
}

// stop cancels the serve context and returns the command's result.
func (r *runningServe) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		return err
	case <-time.After(startTimeout):
		t.Fatal("serve did not stop")
		return nil
	}
}

// startServe runs the serve command in the background and waits for the
// API listener.
func startServe(t *testing.T, deps *ServeDeps, args ...string) *runningServe {
	t.Helper()
	if deps == nil {
		deps = &ServeDeps{}
	}
	addrCh := make(chan net.Addr, 1)
	deps.OnListen = func(a net.Addr) { addrCh <- a }

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newRootCmd(deps, nil)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"serve", "--http-addr", "127.0.0.1:0", "--metrics-addr="}, args...))

	r := &runningServe{cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- cmd.ExecuteContext(ctx) }()

	select {
	case a := <-addrCh:
		r.baseURL = "http://" + a.String()
	case err := <-r.done:
		cancel()
		t.Fatalf("serve exited before listening: %v", err)
	case <-time.After(startTimeout):
		cancel()
		t.Fatal("serve did not start listening")
	}
	t.Cleanup(cancel)
	return r
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw)) //nolint:noctx // test helper
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestServe_MemoryStoreEndToEnd(t *testing.T) {
	serveEnv(t)
	srv := startServe(t, nil, "--store", "memory")

	resp, body := postJSON(t, srv.baseURL+"/api/auth/register", map[string]string{
		"username": "alice",
		"email":    "Alice@Example.com",
		"password": "Secr3t!pass",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.NotContains(t, user, "passwordHash")

	resp, body = postJSON(t, srv.baseURL+"/api/auth/login", map[string]string{
		"identifier": "alice@example.com",
		"password":   "Secr3t!pass",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.NotEmpty(t, body["token"])

	health, err := http.Get(srv.baseURL + "/api/health") //nolint:noctx // test
	require.NoError(t, err)
	_ = health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	assert.NoError(t, srv.stop(t))
}

func TestServe_LockoutThresholdFromConfig(t *testing.T) {
	serveEnv(t)
	t.Setenv("BLACKFORTRESS_AUTH__LOCKOUT_THRESHOLD", "2")
	srv := startServe(t, nil, "--store", "memory", "--no-rate-limit")

	resp, _ := postJSON(t, srv.baseURL+"/api/auth/register", map[string]string{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "Secr3t!pass",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	bad := map[string]string{"identifier": "bob", "password": "wrong-password"}
	resp, _ = postJSON(t, srv.baseURL+"/api/auth/login", bad)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = postJSON(t, srv.baseURL+"/api/auth/login", bad)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	assert.NoError(t, srv.stop(t))
}

func TestServe_RedisRateLimiter(t *testing.T) {
	serveEnv(t)
	mr := miniredis.RunT(t)
	srv := startServe(t, nil, "--store", "memory", "--redis-addr", mr.Addr())

	resp, _ := postJSON(t, srv.baseURL+"/api/auth/login", map[string]string{
		"identifier": "nobody",
		"password":   "Secr3t!pass",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "10", resp.Header.Get("RateLimit-Limit"))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "blackfortress:ratelimit:"), keys[0])

	assert.NoError(t, srv.stop(t))
}

type fakeObservabilityServer struct {
	startErr error
	errCh    chan error
	stopped  bool
	metrics  *observability.Metrics
}

func (f *fakeObservabilityServer) Start() (<-chan error, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.errCh, nil
}

func (f *fakeObservabilityServer) Stop(context.Context) error {
	f.stopped = true
	return nil
}

func (f *fakeObservabilityServer) Metrics() *observability.Metrics {
	return f.metrics
}

func newFakeObservability() *fakeObservabilityServer {
	return &fakeObservabilityServer{
		errCh:   make(chan error, 1),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
}

func TestServe_ObservabilityServer(t *testing.T) {
	serveEnv(t)
	obs := newFakeObservability()
	var gotAddr string
	var gotReady observability.ReadinessChecker
	deps := &ServeDeps{
		ObservabilityServerFactory: func(addr string, ready observability.ReadinessChecker, _ *slog.Logger) ObservabilityServer {
			gotAddr, gotReady = addr, ready
			return obs
		},
	}
	deps.StoreOpener = func(context.Context, string, string, store.ConnectOptions) (*AccountStore, error) {
		return &AccountStore{
			Accounts: memory.NewRepository(),
			Ping:     func(context.Context) error { return nil },
			Close:    func() {},
		}, nil
	}

	srv := startServe(t, deps, "--store", "memory", "--metrics-addr", "127.0.0.1:9999")
	resp, _ := postJSON(t, srv.baseURL+"/api/auth/register", map[string]string{
		"username": "carol",
		"email":    "carol@example.com",
		"password": "Secr3t!pass",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, srv.stop(t))

	assert.Equal(t, "127.0.0.1:9999", gotAddr)
	require.NotNil(t, gotReady)
	assert.NoError(t, gotReady(context.Background()))
	assert.True(t, obs.stopped)
	assert.InDelta(t, 1, testutil.ToFloat64(obs.metrics.RegistrationsTotal.WithLabelValues("User")), 0)
}

func TestServe_ObservabilityFailureShutsDown(t *testing.T) {
	serveEnv(t)
	obs := newFakeObservability()
	deps := &ServeDeps{
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, *slog.Logger) ObservabilityServer {
			return obs
		},
	}

	srv := startServe(t, deps, "--store", "memory", "--metrics-addr", "127.0.0.1:9999")
	obs.errCh <- errors.New("listener closed")

	select {
	case err := <-srv.done:
		assert.NoError(t, err)
	case <-time.After(startTimeout):
		t.Fatal("serve did not shut down after observability failure")
	}
}

func TestServe_ObservabilityStartFailure(t *testing.T) {
	serveEnv(t)
	obs := newFakeObservability()
	obs.startErr = errors.New("address in use")
	deps := &ServeDeps{
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, *slog.Logger) ObservabilityServer {
			return obs
		},
	}

	_, err := execute(newRootCmd(deps, nil), "serve", "--store", "memory", "--metrics-addr", "127.0.0.1:9999")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_START_FAILED")
}

func TestServe_AutoMigrate(t *testing.T) {
	serveEnv(t)
	m := &fakeMigrator{}
	var migrateURL, storeURL string
	var storeOpts store.ConnectOptions
	deps := &ServeDeps{
		MigratorFactory: func(url string) (AutoMigrator, error) {
			migrateURL = url
			return m, nil
		},
		StoreOpener: func(_ context.Context, kind, url string, opts store.ConnectOptions) (*AccountStore, error) {
			assert.Equal(t, "postgres", kind)
			assert.True(t, m.upCalled, "migrations run before the store opens")
			storeURL, storeOpts = url, opts
			return &AccountStore{Accounts: memory.NewRepository(), Close: func() {}}, nil
		},
	}

	srv := startServe(t, deps, "--database-url", "postgres://db/auth", "--auto-migrate")
	require.NoError(t, srv.stop(t))

	assert.True(t, m.upCalled)
	assert.True(t, m.closeCalled)
	assert.Equal(t, "postgres://db/auth", migrateURL)
	assert.Equal(t, "postgres://db/auth", storeURL)
	assert.Equal(t, 30*time.Second, storeOpts.Timeout)
	assert.Equal(t, uint64(5), storeOpts.MaxRetries)
}

func TestServe_AutoMigrateDisabledByDefault(t *testing.T) {
	serveEnv(t)
	deps := &ServeDeps{
		MigratorFactory: func(string) (AutoMigrator, error) {
			t.Error("MigratorFactory should not be called when auto-migrate is disabled")
			return &fakeMigrator{}, nil
		},
		StoreOpener: func(context.Context, string, string, store.ConnectOptions) (*AccountStore, error) {
			return &AccountStore{Accounts: memory.NewRepository(), Close: func() {}}, nil
		},
	}

	srv := startServe(t, deps, "--database-url", "postgres://db/auth")
	require.NoError(t, srv.stop(t))
}

func TestServe_AutoMigrateFailure(t *testing.T) {
	serveEnv(t)
	m := &fakeMigrator{upErr: errors.New("dirty database")}
	deps := &ServeDeps{
		MigratorFactory: func(string) (AutoMigrator, error) { return m, nil },
		StoreOpener: func(context.Context, string, string, store.ConnectOptions) (*AccountStore, error) {
			t.Error("store must not open after a failed migration")
			return nil, errors.New("unreachable")
		},
	}

	_, err := execute(newRootCmd(deps, nil), "serve", "--database-url", "postgres://db/auth", "--auto-migrate")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	assert.True(t, m.closeCalled)
}

func TestServe_StoreOpenFailure(t *testing.T) {
	serveEnv(t)
	deps := &ServeDeps{
		StoreOpener: func(context.Context, string, string, store.ConnectOptions) (*AccountStore, error) {
			return nil, errors.New("connection refused")
		},
	}

	_, err := execute(newRootCmd(deps, nil), "serve", "--database-url", "postgres://db/auth", "--metrics-addr=")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestServe_InvalidConfig(t *testing.T) {
	isolateEnv(t)

	_, err := execute(NewRootCmd(), "serve", "--store", "memory")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestServe_ListenFailure(t *testing.T) {
	serveEnv(t)
	deps := &ServeDeps{
		ListenerFactory: func(string, string) (net.Listener, error) {
			return nil, errors.New("permission denied")
		},
	}

	_, err := execute(newRootCmd(deps, nil), "serve", "--store", "memory", "--metrics-addr=")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "HTTP_LISTEN_FAILED")
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("boom")

		monitorServerErrors(ctx, cancel, errCh, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
		assert.NoError(t, ctx.Err())
	})
}
