// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/blackfortress/pkg/errutil"
)

// Registrar creates accounts.
type Registrar struct {
	accounts Repository
	hasher   PasswordHasher
	opts     options
}

// NewRegistrar creates a Registrar.
func NewRegistrar(accounts Repository, hasher PasswordHasher, opts ...Option) (*Registrar, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Registrar{accounts: accounts, hasher: hasher, opts: o}, nil
}

// Register validates the input, creates the account and returns its profile.
// Exactly one account is persisted on success and none on failure.
func (r *Registrar) Register(ctx context.Context, in RegisterInput) (*Profile, error) {
	profile, err := r.register(ctx, in)
	if err != nil {
		code := errutil.Code(err)
		r.opts.observer.RegistrationRejected(code)
		if code == CodeHashingFailed || code == CodeRepositoryFailed {
			errutil.LogError(r.opts.logger, "registration failed", err)
		}
		return nil, err
	}
	r.opts.observer.Registered(profile.Role)
	r.opts.logger.InfoContext(ctx, "account registered",
		"account_id", profile.ID.String(),
		"username", profile.Username,
		"role", string(profile.Role))
	return profile, nil
}

func (r *Registrar) register(ctx context.Context, in RegisterInput) (*Profile, error) {
	in = in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return nil, validationError(map[string]string{"role": err.Error()}, err.Error())
	}

	exists, err := r.accounts.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return nil, repositoryError("check existing account", err)
	}
	if exists {
		return nil, conflictError(nil)
	}

	digest, err := r.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code(CodeHashingFailed).
			With("username", in.Username).
			Wrap(err)
	}

	now := r.opts.now().UTC()
	acct := &Account{
		ID:           ulid.Make(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: digest,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.accounts.Create(ctx, acct); err != nil {
		// The pre-check can race with a concurrent registration; the
		// repository constraint decides.
		if errors.Is(err, ErrDuplicateKey) {
			return nil, conflictError(err)
		}
		return nil, repositoryError("create account", err)
	}

	profile := acct.Profile()
	return &profile, nil
}
