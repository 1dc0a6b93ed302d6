// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/blackfortress/internal/account"
)

const namespace = "blackfortress"

// Metrics holds the service counters. It implements account.Observer.
type Metrics struct {
	RegistrationsTotal        *prometheus.CounterVec
	RegistrationFailuresTotal *prometheus.CounterVec
	AuthenticationsTotal      *prometheus.CounterVec
	LockoutsTotal             prometheus.Counter
	HTTPRequestsTotal         *prometheus.CounterVec
	RateLimitedTotal          *prometheus.CounterVec
}

var _ account.Observer = (*Metrics)(nil)

// NewMetrics creates and registers the service metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registrations_total",
				Help:      "Total number of accounts registered by role",
			},
			[]string{"role"},
		),
		RegistrationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registration_failures_total",
				Help:      "Total number of rejected registrations by error code",
			},
			[]string{"code"},
		),
		AuthenticationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authentications_total",
				Help:      "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lockouts_total",
				Help:      "Total number of accounts locked after repeated failures",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Total number of requests rejected by the rate limiter by route",
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		m.RegistrationsTotal,
		m.RegistrationFailuresTotal,
		m.AuthenticationsTotal,
		m.LockoutsTotal,
		m.HTTPRequestsTotal,
		m.RateLimitedTotal,
	)
	return m
}

// Registered counts a successful registration.
func (m *Metrics) Registered(role account.Role) {
	m.RegistrationsTotal.WithLabelValues(string(role)).Inc()
}

// RegistrationRejected counts a failed registration.
func (m *Metrics) RegistrationRejected(code string) {
	if code == "" {
		code = "unknown"
	}
	m.RegistrationFailuresTotal.WithLabelValues(code).Inc()
}

// Authenticated counts a login attempt.
func (m *Metrics) Authenticated(outcome string) {
	m.AuthenticationsTotal.WithLabelValues(outcome).Inc()
}

// AccountLocked counts a lockout transition.
func (m *Metrics) AccountLocked() {
	m.LockoutsTotal.Inc()
}

// ObserveRequest counts a served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) ObserveRateLimited(route string) {
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}
