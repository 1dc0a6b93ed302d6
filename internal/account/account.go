// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the authorization role carried by an account and its tokens.
type Role string

// Supported roles.
const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// ParseRole converts a role name to a Role. An empty name yields RoleUser.
func ParseRole(name string) (Role, error) {
	switch Role(name) {
	case "":
		return RoleUser, nil
	case RoleUser, RoleAdmin:
		return Role(name), nil
	default:
		return "", oops.Code(CodeValidation).
			With("role", name).
			Errorf("role must be one of %s, %s", RoleUser, RoleAdmin)
	}
}

// Account is the stored identity record.
type Account struct {
	ID             ulid.ULID
	Username       string
	Email          string
	PasswordHash   string
	Role           Role
	IsActive       bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Profile is the externally visible projection of an account.
type Profile struct {
	ID          ulid.ULID  `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Profile strips the password digest and lockout bookkeeping.
func (a *Account) Profile() Profile {
	return Profile{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		Role:        a.Role,
		LastLoginAt: a.LastLoginAt,
		CreatedAt:   a.CreatedAt,
	}
}

// IsLocked reports whether the account is locked at now.
func (a *Account) IsLocked(now time.Time) bool {
	return IsLockedAt(a.LockedUntil, now)
}
