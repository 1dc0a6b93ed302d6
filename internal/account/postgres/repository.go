// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements account.Repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/blackfortress/internal/account"
)

// poolIface is the subset of pgxpool.Pool used by Repository. It lets tests
// substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, username, email, password_hash, role, is_active,
		       failed_attempts, locked_until, last_login_at, created_at, updated_at`

// keepLock is true when the row holds a lock still active at $2 and the
// update ($4) carries none.
const keepLock = `(locked_until IS NOT NULL AND locked_until > $2 AND $4::timestamptz IS NULL)`

// Repository implements account.Repository using PostgreSQL.
type Repository struct {
	pool poolIface
}

// NewRepository creates a new Repository.
func NewRepository(pool poolIface) *Repository {
	return &Repository{pool: pool}
}

// FindByUsernameOrEmail matches username exactly or email case-insensitively.
func (r *Repository) FindByUsernameOrEmail(ctx context.Context, identifier string) (*account.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE username = $1 OR email = LOWER($1)
		LIMIT 1
	`, identifier)

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("identifier", identifier).Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "find account by username or email").Wrap(err)
	}
	return a, nil
}

// ExistsByUsernameOrEmail reports whether the username or email is taken.
func (r *Repository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM accounts WHERE username = $1 OR email = LOWER($2)
		)
	`, username, email).Scan(&exists)
	if err != nil {
		return false, oops.With("operation", "check account exists").Wrap(err)
	}
	return exists, nil
}

// Create inserts a and reads back the database timestamps. Unique
// violations are reported as account.ErrDuplicateKey.
func (r *Repository) Create(ctx context.Context, a *account.Account) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (
			id, username, email, password_hash, role, is_active,
			failed_attempts, locked_until, last_login_at
		) VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8, $9)
		RETURNING email, created_at, updated_at
	`,
		a.ID.String(),
		a.Username,
		a.Email,
		a.PasswordHash,
		string(a.Role),
		a.IsActive,
		a.FailedAttempts,
		a.LockedUntil,
		a.LastLoginAt,
	).Scan(&a.Email, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.
				With("constraint", pgErr.ConstraintName).
				With("username", a.Username).
				Wrap(account.ErrDuplicateKey)
		}
		return oops.
			With("operation", "insert account").
			With("username", a.Username).
			Wrap(err)
	}
	return nil
}

// Update applies u in a single statement. When the row holds a lock that is
// still active at u.At and u carries no lock, every column is left as is.
func (r *Repository) Update(ctx context.Context, id ulid.ULID, u account.Update) (*account.Account, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE accounts SET
			failed_attempts = CASE WHEN `+keepLock+` THEN failed_attempts ELSE $3 END,
			locked_until    = CASE WHEN `+keepLock+` THEN locked_until ELSE $4::timestamptz END,
			last_login_at   = CASE WHEN `+keepLock+` THEN last_login_at ELSE COALESCE($5::timestamptz, last_login_at) END,
			password_hash   = CASE WHEN `+keepLock+` THEN password_hash ELSE COALESCE($6::text, password_hash) END,
			updated_at      = CASE WHEN `+keepLock+` THEN updated_at ELSE $2 END
		WHERE id = $1
		RETURNING `+accountColumns+`
	`,
		id.String(),
		u.At,
		u.FailedAttempts,
		u.LockedUntil,
		u.LastLoginAt,
		u.PasswordHash,
	)

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("id", id.String()).Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.
			With("operation", "update account").
			With("id", id.String()).
			Wrap(err)
	}
	return a, nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a           account.Account
		idStr       string
		role        string
		lockedUntil *time.Time
		lastLoginAt *time.Time
	)
	err := row.Scan(
		&idStr,
		&a.Username,
		&a.Email,
		&a.PasswordHash,
		&role,
		&a.IsActive,
		&a.FailedAttempts,
		&lockedUntil,
		&lastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("id", idStr).Wrap(err)
	}
	a.ID = id
	a.Role = account.Role(role)
	a.LockedUntil = lockedUntil
	a.LastLoginAt = lastLoginAt
	return &a, nil
}
