// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/blackfortress/internal/account"
	"github.com/holomush/blackfortress/internal/account/postgres"
)

var _ = Describe("Repository", func() {
	var (
		ctx  context.Context
		repo *postgres.Repository
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewRepository(testPool)
		_, err := testPool.Exec(ctx, `TRUNCATE accounts`)
		Expect(err).NotTo(HaveOccurred())
	})

	newAccount := func(username, email string) *account.Account {
		return &account.Account{
			ID:           ulid.Make(),
			Username:     username,
			Email:        email,
			PasswordHash: "$2a$04$digest",
			Role:         account.RoleUser,
			IsActive:     true,
		}
	}

	Describe("Create", func() {
		It("stores the account with a lowercased email", func() {
			a := newAccount("alice", "Alice@Example.com")
			Expect(repo.Create(ctx, a)).To(Succeed())
			Expect(a.Email).To(Equal("alice@example.com"))
			Expect(a.CreatedAt).NotTo(BeZero())

			found, err := repo.FindByUsernameOrEmail(ctx, "ALICE@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(a.ID))
			Expect(found.Role).To(Equal(account.RoleUser))
		})

		It("rejects a duplicate username", func() {
			Expect(repo.Create(ctx, newAccount("alice", "alice@example.com"))).To(Succeed())
			err := repo.Create(ctx, newAccount("alice", "other@example.com"))
			Expect(err).To(MatchError(account.ErrDuplicateKey))
		})

		It("rejects a duplicate email regardless of case", func() {
			Expect(repo.Create(ctx, newAccount("alice", "alice@example.com"))).To(Succeed())
			err := repo.Create(ctx, newAccount("bob", "ALICE@EXAMPLE.COM"))
			Expect(err).To(MatchError(account.ErrDuplicateKey))
		})

		It("lets exactly one of many concurrent registrations win", func() {
			const workers = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				created int
			)
			for range workers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := repo.Create(ctx, newAccount("racer", ulid.Make().String()+"@example.com"))
					if err == nil {
						mu.Lock()
						created++
						mu.Unlock()
						return
					}
					Expect(err).To(MatchError(account.ErrDuplicateKey))
				}()
			}
			wg.Wait()
			Expect(created).To(Equal(1))
		})
	})

	Describe("ExistsByUsernameOrEmail", func() {
		It("checks both keys", func() {
			Expect(repo.Create(ctx, newAccount("alice", "alice@example.com"))).To(Succeed())

			Expect(repo.ExistsByUsernameOrEmail(ctx, "alice", "x@example.com")).To(BeTrue())
			Expect(repo.ExistsByUsernameOrEmail(ctx, "bob", "Alice@Example.com")).To(BeTrue())
			Expect(repo.ExistsByUsernameOrEmail(ctx, "bob", "bob@example.com")).To(BeFalse())
		})
	})

	Describe("Update", func() {
		var (
			a   *account.Account
			now time.Time
		)

		BeforeEach(func() {
			a = newAccount("alice", "alice@example.com")
			Expect(repo.Create(ctx, a)).To(Succeed())
			now = time.Now().UTC().Truncate(time.Microsecond)
		})

		It("writes lockout counters", func() {
			until := now.Add(2 * time.Hour)
			stored, err := repo.Update(ctx, a.ID, account.Update{FailedAttempts: 5, LockedUntil: &until, At: now})
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.FailedAttempts).To(Equal(5))
			Expect(stored.LockedUntil).NotTo(BeNil())
			Expect(stored.LockedUntil.Equal(until)).To(BeTrue())
		})

		It("never clears an active lock", func() {
			until := now.Add(2 * time.Hour)
			_, err := repo.Update(ctx, a.ID, account.Update{FailedAttempts: 5, LockedUntil: &until, At: now})
			Expect(err).NotTo(HaveOccurred())

			stored, err := repo.Update(ctx, a.ID, account.Update{FailedAttempts: 0, LastLoginAt: &now, At: now})
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.FailedAttempts).To(Equal(5))
			Expect(stored.LockedUntil).NotTo(BeNil())
			Expect(stored.LastLoginAt).To(BeNil())
		})

		It("records a login and an upgraded digest", func() {
			digest := "$2a$12$upgraded"
			stored, err := repo.Update(ctx, a.ID, account.Update{LastLoginAt: &now, PasswordHash: &digest, At: now})
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.LastLoginAt).NotTo(BeNil())
			Expect(stored.PasswordHash).To(Equal(digest))
		})

		It("reports a missing account", func() {
			_, err := repo.Update(ctx, ulid.Make(), account.Update{At: now})
			Expect(err).To(MatchError(account.ErrNotFound))
		})
	})
})
