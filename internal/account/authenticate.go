// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/blackfortress/pkg/errutil"
)

// dummyPassword is hashed once to give unknown identifiers a digest to verify
// against, so their response time tracks the known-account path.
//
//nolint:gosec // G101: not a credential.
const dummyPassword = "blackfortress-timing-equalizer"

// LoginResult is returned by a successful authentication.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Account   Profile   `json:"user"`
}

// Authenticator verifies credentials and issues session tokens.
type Authenticator struct {
	accounts Repository
	hasher   PasswordHasher
	tokens   TokenIssuer
	opts     options

	dummyOnce   sync.Once
	dummyDigest string
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(accounts Repository, hasher PasswordHasher, tokens TokenIssuer, opts ...Option) (*Authenticator, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.policy.Validate(); err != nil {
		return nil, err
	}
	return &Authenticator{accounts: accounts, hasher: hasher, tokens: tokens, opts: o}, nil
}

// Authenticate verifies identifier and password.
//
// Unknown identifiers and wrong passwords fail with the same
// AUTH_INVALID_CREDENTIALS error. Locked accounts fail with
// AUTH_ACCOUNT_LOCKED whether or not the password is correct. Unknown
// identifiers cause no writes; every other outcome writes exactly one
// repository Update.
func (a *Authenticator) Authenticate(ctx context.Context, identifier, password string) (*LoginResult, error) {
	result, outcome, err := a.authenticate(ctx, identifier, password)
	a.opts.observer.Authenticated(outcome)
	if outcome == OutcomeError {
		errutil.LogError(a.opts.logger, "authentication failed", err)
	}
	return result, err
}

func (a *Authenticator) authenticate(ctx context.Context, identifier, password string) (*LoginResult, string, error) {
	if err := ValidateCredentials(identifier, password); err != nil {
		return nil, OutcomeInvalidInput, err
	}

	acct, err := a.accounts.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.equalizeTiming(password)
			return nil, OutcomeInvalidCredentials, invalidCredentialsError()
		}
		return nil, OutcomeError, repositoryError("find account", err)
	}

	now := a.opts.now().UTC()
	if acct.IsLocked(now) {
		a.opts.logger.WarnContext(ctx, "login attempt on locked account",
			"account_id", acct.ID.String(),
			"username", acct.Username,
			"locked_until", *acct.LockedUntil)
		return nil, OutcomeLocked, accountLockedError(*acct.LockedUntil, false)
	}

	valid, err := a.hasher.Verify(password, acct.PasswordHash)
	if err != nil {
		return nil, OutcomeError, oops.Code(CodeHashingFailed).
			With("account_id", acct.ID.String()).
			Wrap(err)
	}
	if !valid {
		return a.recordFailure(ctx, acct, now)
	}
	return a.recordSuccess(ctx, acct, password, now)
}

func (a *Authenticator) recordFailure(ctx context.Context, acct *Account, now time.Time) (*LoginResult, string, error) {
	next, justLocked := a.opts.policy.RecordFailure(acct.Lockout(), now)
	stored, err := a.accounts.Update(ctx, acct.ID, Update{
		FailedAttempts: next.FailedAttempts,
		LockedUntil:    next.LockedUntil,
		At:             now,
	})
	if err != nil {
		return nil, OutcomeError, repositoryError("record failed attempt", err)
	}

	if justLocked {
		a.opts.observer.AccountLocked()
		a.opts.logger.WarnContext(ctx, "account locked",
			"account_id", acct.ID.String(),
			"username", acct.Username,
			"failed_attempts", next.FailedAttempts,
			"locked_until", *next.LockedUntil)
		return nil, OutcomeLocked, accountLockedError(*next.LockedUntil, true)
	}
	if stored.IsLocked(now) {
		// A concurrent failure locked the account first.
		return nil, OutcomeLocked, accountLockedError(*stored.LockedUntil, false)
	}

	a.opts.logger.InfoContext(ctx, "invalid password",
		"account_id", acct.ID.String(),
		"username", acct.Username,
		"failed_attempts", next.FailedAttempts)
	return nil, OutcomeInvalidCredentials, invalidCredentialsError()
}

func (a *Authenticator) recordSuccess(ctx context.Context, acct *Account, password string, now time.Time) (*LoginResult, string, error) {
	reset := RecordSuccess()
	update := Update{
		FailedAttempts: reset.FailedAttempts,
		LockedUntil:    reset.LockedUntil,
		LastLoginAt:    &now,
		At:             now,
	}
	if a.hasher.NeedsUpgrade(acct.PasswordHash) {
		// A failed rehash keeps the old digest; the login itself is valid.
		if digest, err := a.hasher.Hash(password); err == nil {
			update.PasswordHash = &digest
		} else {
			errutil.LogError(a.opts.logger, "password rehash failed", err)
		}
	}

	stored, err := a.accounts.Update(ctx, acct.ID, update)
	if err != nil {
		return nil, OutcomeError, repositoryError("record successful login", err)
	}
	if stored.IsLocked(now) {
		// A concurrent failure locked the account between read and write;
		// the repository kept the lock and skipped this update.
		return nil, OutcomeLocked, accountLockedError(*stored.LockedUntil, false)
	}

	token, err := a.tokens.Issue(stored, now)
	if err != nil {
		return nil, OutcomeError, oops.Code(CodeTokenFailed).
			With("account_id", stored.ID.String()).
			Wrap(err)
	}

	a.opts.logger.InfoContext(ctx, "login succeeded",
		"account_id", stored.ID.String(),
		"username", stored.Username)
	return &LoginResult{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		Account:   stored.Profile(),
	}, OutcomeSuccess, nil
}

// equalizeTiming runs a verification whose result is discarded.
func (a *Authenticator) equalizeTiming(password string) {
	a.dummyOnce.Do(func() {
		digest, err := a.hasher.Hash(dummyPassword)
		if err == nil {
			a.dummyDigest = digest
		}
	})
	if a.dummyDigest == "" {
		return
	}
	_, _ = a.hasher.Verify(password, a.dummyDigest) //nolint:errcheck // result intentionally discarded
}
