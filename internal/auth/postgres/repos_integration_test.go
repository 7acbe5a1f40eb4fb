// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/auth/postgres"
)

var _ = Describe("AccountRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.AccountRepository
		now  time.Time
	)

	BeforeEach(func() {
		truncate()
		ctx = context.Background()
		repo = postgres.NewAccountRepository(pool)
		now = time.Now().UTC().Truncate(time.Microsecond)
	})

	newAccount := func(name string) *auth.Account {
		a, err := auth.NewAccount(name, "$2a$10$hash", "salt", uuid.New(), now)
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	It("creates once per username", func() {
		created, err := repo.Create(ctx, newAccount("alice"))
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())

		created, err = repo.Create(ctx, newAccount("alice"))
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeFalse())

		n, err := repo.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
	})

	It("round-trips the snapshot", func() {
		a := newAccount("bob")
		_, err := repo.Create(ctx, a)
		Expect(err).NotTo(HaveOccurred())

		snap := auth.DefaultSnapshot()
		snap.World = "nether"
		snap.Position.X = 12.5
		snap.Attributes = map[string]string{"title": "Wanderer"}
		Expect(repo.SaveSnapshot(ctx, "bob", snap, now.Add(time.Minute))).To(Succeed())

		got, err := repo.GetByUsername(ctx, "bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Snapshot).To(Equal(snap))
		Expect(got.LocalIdentity).To(Equal(a.LocalIdentity))
		Expect(got.ExternalIdentity).To(BeNil())
		Expect(got.LastIP).To(BeEmpty())
	})

	It("records logins and links identities", func() {
		_, err := repo.Create(ctx, newAccount("carol"))
		Expect(err).NotTo(HaveOccurred())

		Expect(repo.RecordLogin(ctx, "carol", "1.2.3.4", now)).To(Succeed())
		ext := uuid.New()
		linked, err := repo.LinkExternalIdentity(ctx, "carol", ext)
		Expect(err).NotTo(HaveOccurred())
		Expect(linked).To(BeTrue())

		got, err := repo.GetByUsername(ctx, "carol")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.LastIP).To(Equal("1.2.3.4"))
		Expect(got.LastLoginAt).To(BeTemporally("==", now))
		Expect(*got.ExternalIdentity).To(Equal(ext))
	})

	It("reports missing accounts as not found", func() {
		_, err := repo.GetByUsername(ctx, "nobody")
		Expect(err).To(MatchError(auth.ErrNotFound))
		Expect(repo.SaveSnapshot(ctx, "nobody", auth.DefaultSnapshot(), now)).To(MatchError(auth.ErrNotFound))
	})
})

var _ = Describe("SessionRepository", func() {
	var (
		ctx      context.Context
		accounts *postgres.AccountRepository
		sessions *postgres.SessionRepository
		now      time.Time
	)

	BeforeEach(func() {
		truncate()
		ctx = context.Background()
		accounts = postgres.NewAccountRepository(pool)
		sessions = postgres.NewSessionRepository(pool)
		now = time.Now().UTC().Truncate(time.Microsecond)

		for _, name := range []string{"alice", "bob"} {
			a, err := auth.NewAccount(name, "$2a$10$hash", "salt", uuid.New(), now)
			Expect(err).NotTo(HaveOccurred())
			_, err = accounts.Create(ctx, a)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	newSession := func(user, hash string, created time.Time) *auth.Session {
		s, err := auth.NewSession(user, "1.2.3.4", hash, created, 24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	It("keeps one active session per username", func() {
		Expect(sessions.CreateExclusive(ctx, newSession("alice", "h1", now))).To(Succeed())
		Expect(sessions.CreateExclusive(ctx, newSession("alice", "h2", now))).To(Succeed())

		active, err := sessions.GetActiveByUsername(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(active.TokenHash).To(Equal("h2"))

		old, err := sessions.GetByTokenHash(ctx, "h1")
		Expect(err).NotTo(HaveOccurred())
		Expect(old.Active).To(BeFalse())
	})

	It("serializes concurrent creates for one username", func() {
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				s := newSession("alice", uuid.NewString(), now.Add(time.Duration(i)*time.Millisecond))
				Expect(sessions.CreateExclusive(ctx, s)).To(Succeed())
			}()
		}
		wg.Wait()

		n, err := sessions.CountActive(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
	})

	It("sweeps expired sessions except protected usernames", func() {
		old := now.Add(-48 * time.Hour)
		Expect(sessions.CreateExclusive(ctx, newSession("alice", "ha", old))).To(Succeed())
		Expect(sessions.CreateExclusive(ctx, newSession("bob", "hb", old))).To(Succeed())

		swept, err := sessions.SweepExpired(ctx, now, []string{"alice"})
		Expect(err).NotTo(HaveOccurred())
		Expect(swept).To(Equal(int64(1)))

		kept, err := sessions.GetByTokenHash(ctx, "ha")
		Expect(err).NotTo(HaveOccurred())
		Expect(kept.Active).To(BeTrue())
	})

	It("filters to live tokens", func() {
		Expect(sessions.CreateExclusive(ctx, newSession("alice", "live", now))).To(Succeed())
		Expect(sessions.CreateExclusive(ctx, newSession("bob", "gone", now))).To(Succeed())
		revoked, err := sessions.DeactivateByTokenHash(ctx, "gone")
		Expect(err).NotTo(HaveOccurred())
		Expect(revoked).To(BeTrue())

		live, err := sessions.FilterActive(ctx, []string{"live", "gone", "unknown"}, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(live).To(ConsistOf("live"))
	})

	It("deactivates everything and prunes inactive rows", func() {
		Expect(sessions.CreateExclusive(ctx, newSession("alice", "h1", now))).To(Succeed())
		Expect(sessions.CreateExclusive(ctx, newSession("bob", "h2", now))).To(Succeed())

		n, err := sessions.DeactivateAllActive(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(2)))

		pruned, err := sessions.PruneInactive(ctx, now.Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(pruned).To(Equal(int64(2)))
	})

	It("drops sessions with their account", func() {
		Expect(sessions.CreateExclusive(ctx, newSession("bob", "hb", now))).To(Succeed())
		_, err := pool.Exec(ctx, `DELETE FROM accounts WHERE username = 'bob'`)
		Expect(err).NotTo(HaveOccurred())

		_, err = sessions.GetByTokenHash(ctx, "hb")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})
})

var _ = Describe("AuditWriter", func() {
	BeforeEach(truncate)

	It("persists buffered records on close", func() {
		ctx := context.Background()
		w := postgres.NewAuditWriter(pool, postgres.AuditWriterConfig{})
		at := time.Now().UTC()
		w.Record(auth.AuditRecord{Actor: "alice", Source: "1.2.3.4", Action: auth.ActionLogin, Success: true, At: at})
		w.Record(auth.AuditRecord{Source: "1.2.3.4", Action: auth.ActionLoginFailed, At: at})
		Expect(w.Close(ctx)).To(Succeed())

		var n int64
		Expect(pool.QueryRow(ctx, `SELECT COUNT(*) FROM security_log`).Scan(&n)).To(Succeed())
		Expect(n).To(Equal(int64(2)))

		pruned, err := w.Prune(ctx, at.Add(time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(pruned).To(Equal(int64(2)))
	})
})
