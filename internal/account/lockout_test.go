// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/blackfortress/internal/account"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func TestIsLockedAt(t *testing.T) {
	tests := []struct {
		name        string
		lockedUntil *time.Time
		want        bool
	}{
		{"no lock", nil, false},
		{"future lock", timePtr(t0.Add(time.Minute)), true},
		{"lock ends now", timePtr(t0), false},
		{"elapsed lock", timePtr(t0.Add(-time.Minute)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, account.IsLockedAt(tt.lockedUntil, t0))
		})
	}
}

func TestLockoutPolicy_RecordFailure(t *testing.T) {
	policy := account.DefaultLockoutPolicy()

	t.Run("increments below threshold", func(t *testing.T) {
		next, locked := policy.RecordFailure(account.LockoutState{FailedAttempts: 2}, t0)
		assert.Equal(t, 3, next.FailedAttempts)
		assert.Nil(t, next.LockedUntil)
		assert.False(t, locked)
	})

	t.Run("locks when reaching threshold", func(t *testing.T) {
		next, locked := policy.RecordFailure(account.LockoutState{FailedAttempts: 4}, t0)
		assert.Equal(t, 5, next.FailedAttempts)
		require.NotNil(t, next.LockedUntil)
		assert.Equal(t, t0.Add(2*time.Hour), *next.LockedUntil)
		assert.True(t, locked)
	})

	t.Run("does not extend an active lock", func(t *testing.T) {
		until := t0.Add(30 * time.Minute)
		next, locked := policy.RecordFailure(account.LockoutState{FailedAttempts: 5, LockedUntil: &until}, t0)
		assert.Equal(t, 6, next.FailedAttempts)
		require.NotNil(t, next.LockedUntil)
		assert.Equal(t, until, *next.LockedUntil)
		assert.False(t, locked)
	})

	t.Run("elapsed lock restarts at one", func(t *testing.T) {
		until := t0.Add(-time.Second)
		next, locked := policy.RecordFailure(account.LockoutState{FailedAttempts: 5, LockedUntil: &until}, t0)
		assert.Equal(t, 1, next.FailedAttempts)
		assert.Nil(t, next.LockedUntil)
		assert.False(t, locked)
	})

	t.Run("elapsed lock is re-evaluated against the threshold", func(t *testing.T) {
		strict := account.LockoutPolicy{Threshold: 1, Duration: time.Minute}
		until := t0.Add(-time.Second)
		next, locked := strict.RecordFailure(account.LockoutState{FailedAttempts: 1, LockedUntil: &until}, t0)
		assert.Equal(t, 1, next.FailedAttempts)
		require.NotNil(t, next.LockedUntil)
		assert.Equal(t, t0.Add(time.Minute), *next.LockedUntil)
		assert.True(t, locked)
	})

	t.Run("five consecutive failures lock", func(t *testing.T) {
		var s account.LockoutState
		var locked bool
		for i := 1; i <= 5; i++ {
			s, locked = policy.RecordFailure(s, t0)
			assert.Equal(t, i == 5, locked, "attempt %d", i)
		}
		assert.True(t, account.IsLockedAt(s.LockedUntil, t0))
	})
}

func TestRecordSuccess(t *testing.T) {
	s := account.RecordSuccess()
	assert.Zero(t, s.FailedAttempts)
	assert.Nil(t, s.LockedUntil)
}

func TestLockoutPolicy_Validate(t *testing.T) {
	require.NoError(t, account.DefaultLockoutPolicy().Validate())
	assert.Error(t, account.LockoutPolicy{Threshold: 0, Duration: time.Hour}.Validate())
	assert.Error(t, account.LockoutPolicy{Threshold: 5, Duration: 0}.Validate())
}

func TestAccount_IsLocked(t *testing.T) {
	a := &account.Account{LockedUntil: timePtr(t0.Add(time.Hour))}
	assert.True(t, a.IsLocked(t0))
	assert.False(t, a.IsLocked(t0.Add(time.Hour)))
}

func TestUpdate_Suppressed(t *testing.T) {
	active := timePtr(t0.Add(time.Hour))
	assert.True(t, account.Update{At: t0}.Suppressed(active))
	assert.False(t, account.Update{At: t0, LockedUntil: active}.Suppressed(active))
	assert.False(t, account.Update{At: t0}.Suppressed(nil))
	assert.False(t, account.Update{At: t0.Add(2 * time.Hour)}.Suppressed(active))
}
