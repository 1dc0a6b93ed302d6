// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

// Error codes returned by the account services.
const (
	CodeValidation         = "AUTH_VALIDATION_FAILED"
	CodeConflict           = "AUTH_CONFLICT"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeHashingFailed      = "AUTH_HASHING_FAILED"
	CodeRepositoryFailed   = "AUTH_REPOSITORY_FAILED"
	CodeTokenFailed        = "AUTH_TOKEN_FAILED"
)

// Caller-facing messages. InvalidCredentialsMessage is shared by the unknown
// identifier and wrong password paths.
const (
	MissingFieldsMessage      = "All fields are required."
	ConflictMessage           = "Username or email already exists."
	InvalidCredentialsMessage = "Invalid credentials."
	AccountLockedMessage      = "Account is temporarily locked due to too many failed login attempts."
)

// ErrNotFound is returned by repositories when no account matches.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned by repositories when a username or email
// collides with an existing account.
var ErrDuplicateKey = errors.New("duplicate key")

func validationError(fields map[string]string, msg string) error {
	return oops.Code(CodeValidation).
		With("fields", fields).
		Errorf("%s", msg)
}

func conflictError(cause error) error {
	b := oops.Code(CodeConflict)
	if cause != nil {
		return b.Wrapf(cause, "%s", ConflictMessage)
	}
	return b.Errorf("%s", ConflictMessage)
}

func invalidCredentialsError() error {
	return oops.Code(CodeInvalidCredentials).Errorf("%s", InvalidCredentialsMessage)
}

func accountLockedError(lockedUntil time.Time, justLocked bool) error {
	return oops.Code(CodeAccountLocked).
		With("locked_until", lockedUntil).
		With("just_locked", justLocked).
		Errorf("%s", AccountLockedMessage)
}

func repositoryError(operation string, err error) error {
	return oops.Code(CodeRepositoryFailed).
		With("operation", operation).
		Wrap(err)
}
