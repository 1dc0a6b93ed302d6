// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process account.Repository.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/blackfortress/internal/account"
)

// Repository implements account.Repository in memory. The mutex is held
// only inside its methods, never across password hashing.
type Repository struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]*account.Account
	byUsername map[string]ulid.ULID
	byEmail    map[string]ulid.ULID
	now        func() time.Time
}

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		byID:       make(map[ulid.ULID]*account.Account),
		byUsername: make(map[string]ulid.ULID),
		byEmail:    make(map[string]ulid.ULID),
		now:        time.Now,
	}
}

// FindByUsernameOrEmail returns a copy of the matching account.
func (r *Repository) FindByUsernameOrEmail(_ context.Context, identifier string) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[identifier]
	if !ok {
		id, ok = r.byEmail[strings.ToLower(identifier)]
	}
	if !ok {
		return nil, oops.With("identifier", identifier).Wrap(account.ErrNotFound)
	}
	return clone(r.byID[id]), nil
}

// ExistsByUsernameOrEmail reports whether the username or email is taken.
func (r *Repository) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, userTaken := r.byUsername[username]
	_, emailTaken := r.byEmail[strings.ToLower(email)]
	return userTaken || emailTaken, nil
}

// Create stores a copy of a.
func (r *Repository) Create(_ context.Context, a *account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(a.Email)
	if _, taken := r.byUsername[a.Username]; taken {
		return oops.With("field", "username").Wrap(account.ErrDuplicateKey)
	}
	if _, taken := r.byEmail[email]; taken {
		return oops.With("field", "email").Wrap(account.ErrDuplicateKey)
	}

	now := r.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	a.Email = email

	stored := clone(a)
	r.byID[a.ID] = stored
	r.byUsername[a.Username] = a.ID
	r.byEmail[email] = a.ID
	return nil
}

// Update applies u atomically under the write lock.
func (r *Repository) Update(_ context.Context, id ulid.ULID, u account.Update) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return nil, oops.With("id", id.String()).Wrap(account.ErrNotFound)
	}
	if u.Suppressed(stored.LockedUntil) {
		return clone(stored), nil
	}

	stored.FailedAttempts = u.FailedAttempts
	stored.LockedUntil = copyTime(u.LockedUntil)
	if u.LastLoginAt != nil {
		stored.LastLoginAt = copyTime(u.LastLoginAt)
	}
	if u.PasswordHash != nil {
		stored.PasswordHash = *u.PasswordHash
	}
	stored.UpdatedAt = u.At
	return clone(stored), nil
}

// Len returns the number of stored accounts.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func clone(a *account.Account) *account.Account {
	c := *a
	c.LockedUntil = copyTime(a.LockedUntil)
	c.LastLoginAt = copyTime(a.LastLoginAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
