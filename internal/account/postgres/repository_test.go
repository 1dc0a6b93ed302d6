// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/blackfortress/internal/account"
)

var columns = []string{
	"id", "username", "email", "password_hash", "role", "is_active",
	"failed_attempts", "locked_until", "last_login_at", "created_at", "updated_at",
}

func accountRow(id ulid.ULID, failed int, lockedUntil *time.Time, created time.Time) *pgxmock.Rows {
	var locked any
	if lockedUntil != nil {
		locked = lockedUntil
	}
	return pgxmock.NewRows(columns).AddRow(
		id.String(), "alice", "alice@example.com", "$2a$12$digest", "User", true,
		failed, locked, nil, created, created,
	)
}

func TestRepository_FindByUsernameOrEmail(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		wantAny   bool
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, username, email`).
					WithArgs("alice").
					WillReturnRows(accountRow(id, 2, nil, created))
			},
		},
		{
			name: "not found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, username, email`).
					WithArgs("alice").
					WillReturnRows(pgxmock.NewRows(columns))
			},
			wantErr: account.ErrNotFound,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, username, email`).
					WithArgs("alice").
					WillReturnError(errors.New("connection refused"))
			},
			wantAny: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setupMock(mock)

			repo := NewRepository(mock)
			got, err := repo.FindByUsernameOrEmail(ctx, "alice")

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantAny:
				require.Error(t, err)
				assert.NotErrorIs(t, err, account.ErrNotFound)
				assert.Contains(t, err.Error(), "connection refused")
			default:
				require.NoError(t, err)
				assert.Equal(t, id, got.ID)
				assert.Equal(t, account.RoleUser, got.Role)
				assert.Equal(t, 2, got.FailedAttempts)
				assert.Nil(t, got.LockedUntil)
				assert.Equal(t, created, got.CreatedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_ExistsByUsernameOrEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("alice", "Alice@Example.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := NewRepository(mock).ExistsByUsernameOrEmail(context.Background(), "alice", "Alice@Example.com")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Create(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	newAccount := func() *account.Account {
		return &account.Account{
			ID:           ulid.Make(),
			Username:     "alice",
			Email:        "Alice@Example.com",
			PasswordHash: "$2a$12$digest",
			Role:         account.RoleUser,
			IsActive:     true,
		}
	}

	t.Run("reads back timestamps", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		a := newAccount()
		mock.ExpectQuery(`INSERT INTO accounts`).
			WithArgs(a.ID.String(), "alice", "Alice@Example.com", "$2a$12$digest", "User", true, 0,
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"email", "created_at", "updated_at"}).
				AddRow("alice@example.com", created, created))

		require.NoError(t, NewRepository(mock).Create(ctx, a))
		assert.Equal(t, "alice@example.com", a.Email)
		assert.Equal(t, created, a.CreatedAt)
		assert.Equal(t, created, a.UpdatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to ErrDuplicateKey", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`INSERT INTO accounts`).
			WillReturnError(&pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "accounts_username_key",
			})

		err = NewRepository(mock).Create(ctx, newAccount())
		assert.ErrorIs(t, err, account.ErrDuplicateKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors are not duplicates", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`INSERT INTO accounts`).
			WillReturnError(errors.New("disk full"))

		err = NewRepository(mock).Create(ctx, newAccount())
		require.Error(t, err)
		assert.NotErrorIs(t, err, account.ErrDuplicateKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_Update(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(2 * time.Hour)

	t.Run("returns stored row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`UPDATE accounts SET`).
			WithArgs(id.String(), now, 5, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(accountRow(id, 5, &until, now))

		got, err := NewRepository(mock).Update(ctx, id, account.Update{
			FailedAttempts: 5,
			LockedUntil:    &until,
			At:             now,
		})
		require.NoError(t, err)
		assert.Equal(t, 5, got.FailedAttempts)
		require.NotNil(t, got.LockedUntil)
		assert.Equal(t, until, *got.LockedUntil)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`UPDATE accounts SET`).
			WillReturnRows(pgxmock.NewRows(columns))

		_, err = NewRepository(mock).Update(ctx, id, account.Update{At: now})
		assert.ErrorIs(t, err, account.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
