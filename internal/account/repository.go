// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Update is the set of fields written by one authentication decision.
// Lockout fields are always written; LastLoginAt and PasswordHash only when set.
//
// Repositories must apply an Update as one atomic statement and must keep a
// lock that is active at At when the Update carries no lock of its own. In
// that case no field of the Update is applied.
type Update struct {
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	PasswordHash   *string
	At             time.Time
}

// Repository manages account persistence.
type Repository interface {
	// FindByUsernameOrEmail returns the account whose username equals
	// identifier or whose email equals the lowercased identifier.
	// Returns ErrNotFound if none matches.
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error)

	// ExistsByUsernameOrEmail reports whether any account uses the username
	// or the (lowercased) email.
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)

	// Create stores a new account and fills in CreatedAt and UpdatedAt.
	// Returns ErrDuplicateKey on a username or email collision.
	Create(ctx context.Context, account *Account) error

	// Update applies lockout and login bookkeeping and returns the stored row.
	// Returns ErrNotFound if the account does not exist.
	Update(ctx context.Context, id ulid.ULID, update Update) (*Account, error)
}

// Suppressed reports whether a repository must skip update u on a row
// currently locked until lockedUntil.
func (u Update) Suppressed(lockedUntil *time.Time) bool {
	return u.LockedUntil == nil && IsLockedAt(lockedUntil, u.At)
}
