// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// observe logs and counts every request to route.
func (s *Server) observe(route string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rw, r, ps)

		s.cfg.Observer.ObserveRequest(route, rw.status)
		s.cfg.Logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", rw.status,
			"client_ip", s.clientIP(r),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// rateLimit rejects clients that exceed the limiter's window with 429. A
// failing limiter lets the request through.
func (s *Server) rateLimit(route string, next httprouter.Handle) httprouter.Handle {
	if s.cfg.Limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		decision, err := s.cfg.Limiter.Allow(r.Context(), s.clientIP(r))
		if err != nil {
			s.cfg.Logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
				"route", route,
				"error", err)
			next(w, r, ps)
			return
		}

		w.Header().Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("RateLimit-Reset", retryAfter(decision.RetryAfter))
		if !decision.Allowed {
			s.cfg.Observer.ObserveRateLimited(route)
			w.Header().Set("Retry-After", retryAfter(decision.RetryAfter))
			writeError(w, http.StatusTooManyRequests, errorBody{Code: CodeRateLimited, Message: rateLimitedMessage})
			return
		}
		next(w, r, ps)
	}
}

// clientIP is the rate-limit key: the first X-Forwarded-For hop when the
// proxy is trusted, else the peer address.
func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cors allows the configured origins to call the API with credentials.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(s.cfg.AllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'self'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
