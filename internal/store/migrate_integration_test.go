// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatehouse/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(migrator.Close()).To(Succeed()) })
	})

	It("starts at version zero", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())
	})

	It("applies every migration", func() {
		Expect(migrator.Up()).To(Succeed())

		latest, err := store.LatestVersion()
		Expect(err).NotTo(HaveOccurred())
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(Equal(latest))
		Expect(st.Pending).To(BeEmpty())
	})

	It("is idempotent", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("steps down and back up", func() {
		latest, err := store.LatestVersion()
		Expect(err).NotTo(HaveOccurred())

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(latest - 1))

		Expect(migrator.Steps(1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(latest))
	})

	It("rolls everything back and reapplies", func() {
		Expect(migrator.Down()).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())

		Expect(migrator.Up()).To(Succeed())
	})
})

var _ = Describe("Store", Ordered, func() {
	var s *store.Store

	BeforeAll(func() {
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		s, err = store.Open(context.Background(), store.Config{URL: connStr})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
	})

	It("answers queries while open", func() {
		var n int64
		Expect(s.QueryRow(context.Background(), `SELECT COUNT(*) FROM accounts`).Scan(&n)).To(Succeed())
		Expect(s.Ping(context.Background())).To(Succeed())
	})

	It("rejects new work once sealed but keeps the privileged view", func() {
		s.Seal()

		_, err := s.Exec(context.Background(), `SELECT 1`)
		Expect(err).To(MatchError(store.ErrClosed))

		_, err = s.Privileged().Exec(context.Background(), `UPDATE sessions SET active = false WHERE active`)
		Expect(err).NotTo(HaveOccurred())
	})
})
