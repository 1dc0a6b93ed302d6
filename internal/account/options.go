// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"log/slog"
	"time"
)

// Authentication outcomes reported to an Observer.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidInput       = "invalid_input"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeError              = "error"
)

// Observer receives service events, typically to feed metrics.
type Observer interface {
	Registered(role Role)
	RegistrationRejected(code string)
	Authenticated(outcome string)
	AccountLocked()
}

type nopObserver struct{}

func (nopObserver) Registered(Role)             {}
func (nopObserver) RegistrationRejected(string) {}
func (nopObserver) Authenticated(string)        {}
func (nopObserver) AccountLocked()              {}

type options struct {
	logger   *slog.Logger
	now      func() time.Time
	policy   LockoutPolicy
	observer Observer
}

func defaultOptions() options {
	return options{
		logger:   slog.Default(),
		now:      time.Now,
		policy:   DefaultLockoutPolicy(),
		observer: nopObserver{},
	}
}

// Option configures a Registrar or Authenticator.
type Option func(*options)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLockoutPolicy overrides the default lockout policy.
func WithLockoutPolicy(policy LockoutPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithObserver registers an Observer.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}
