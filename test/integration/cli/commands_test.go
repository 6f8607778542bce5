// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package cli_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

var _ = Describe("Operator commands", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		cleanupDatabase(ctx, suite.pool)
	})

	Describe("migrate", func() {
		It("applies every migration and reports status", func() {
			output, err := authcore(ctx, "", "migrate", "up")
			Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", output)
			Expect(output).To(ContainSubstring("Migrations completed successfully"))

			output, err = authcore(ctx, "", "migrate", "status")
			Expect(err).NotTo(HaveOccurred(), "status failed: %s", output)
			Expect(output).To(ContainSubstring("Current version: 3"))
			Expect(output).To(ContainSubstring("Pending: none"))
		})

		It("rolls back one step", func() {
			_, err := authcore(ctx, "", "migrate", "up")
			Expect(err).NotTo(HaveOccurred())

			output, err := authcore(ctx, "", "migrate", "steps", "--", "-1")
			Expect(err).NotTo(HaveOccurred(), "steps failed: %s", output)

			var exists bool
			err = suite.pool.QueryRow(ctx, "SELECT to_regclass('reset_tokens') IS NOT NULL").Scan(&exists)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})

	Describe("seed", func() {
		BeforeEach(func() {
			output, err := authcore(ctx, "", "migrate", "up")
			Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", output)
		})

		It("creates the fixture user once", func() {
			output, err := authcore(ctx, "", "seed")
			Expect(err).NotTo(HaveOccurred(), "seed failed: %s", output)
			Expect(output).To(ContainSubstring("Created fixture user: test@example.com"))

			output, err = authcore(ctx, "", "seed")
			Expect(err).NotTo(HaveOccurred(), "second seed failed: %s", output)
			Expect(output).To(ContainSubstring("already exists, skipping seed"))

			var count int
			err = suite.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE email = $1", "test@example.com").Scan(&count)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})
	})

	Describe("user", func() {
		BeforeEach(func() {
			output, err := authcore(ctx, "", "migrate", "up")
			Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", output)
		})

		It("creates a user and revokes its sessions", func() {
			output, err := authcore(ctx, "pw\npw\n", "user", "create", "--email", "ops@example.com")
			Expect(err).NotTo(HaveOccurred(), "create failed: %s", output)
			Expect(output).To(ContainSubstring("Created user"))

			output, err = authcore(ctx, "", "user", "revoke-sessions", "--email", "ops@example.com")
			Expect(err).NotTo(HaveOccurred(), "revoke failed: %s", output)
			Expect(output).To(ContainSubstring("Revoked 1 session(s)"))

			var tokens int
			err = suite.pool.QueryRow(ctx, "SELECT COUNT(*) FROM login_tokens").Scan(&tokens)
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens).To(BeZero())
		})
	})

	Describe("error handling", func() {
		It("fails when the database URL is blanked", func() {
			output, err := authcore(ctx, "", "seed", "--database-url", "")
			Expect(err).To(HaveOccurred())
			Expect(output).To(ContainSubstring("database_url"))
		})
	})
})
