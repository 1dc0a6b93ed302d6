// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"time"

	"github.com/samber/oops"
)

// Lockout defaults.
const (
	// DefaultLockoutThreshold is the number of consecutive failures that locks an account.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is how long a lock lasts from the triggering failure.
	DefaultLockoutDuration = 2 * time.Hour
)

// LockoutPolicy configures the brute-force lockout state machine.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the five-failures, two-hour policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: DefaultLockoutThreshold,
		Duration:  DefaultLockoutDuration,
	}
}

// Validate checks the policy is usable.
func (p LockoutPolicy) Validate() error {
	if p.Threshold < 1 {
		return oops.Code("LOCKOUT_POLICY_INVALID").
			With("threshold", p.Threshold).
			Errorf("lockout threshold must be at least 1")
	}
	if p.Duration <= 0 {
		return oops.Code("LOCKOUT_POLICY_INVALID").
			With("duration", p.Duration.String()).
			Errorf("lockout duration must be positive")
	}
	return nil
}

// LockoutState is the persisted part of the lockout state machine.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// IsLockedAt is the lock predicate: lockedUntil is set and still in the future.
func IsLockedAt(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// RecordFailure applies one failed attempt to s and returns the next state.
// justLocked is true only when this failure moved the account into Locked.
//
// An elapsed lock restarts the counter at 1 and clears the lock before the
// threshold is evaluated.
func (p LockoutPolicy) RecordFailure(s LockoutState, now time.Time) (next LockoutState, justLocked bool) {
	if s.LockedUntil != nil && !s.LockedUntil.After(now) {
		s = LockoutState{}
	}

	next = LockoutState{
		FailedAttempts: s.FailedAttempts + 1,
		LockedUntil:    s.LockedUntil,
	}
	if next.FailedAttempts >= p.Threshold && !IsLockedAt(s.LockedUntil, now) {
		until := now.Add(p.Duration)
		next.LockedUntil = &until
		justLocked = true
	}
	return next, justLocked
}

// RecordSuccess returns the state after a successful login.
func RecordSuccess() LockoutState {
	return LockoutState{}
}

// Lockout returns the account's current lockout state.
func (a *Account) Lockout() LockoutState {
	return LockoutState{
		FailedAttempts: a.FailedAttempts,
		LockedUntil:    a.LockedUntil,
	}
}
