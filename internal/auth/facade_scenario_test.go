// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memory"
)

func kindOf(err error) auth.Kind {
	return auth.KindOf(err)
}

var _ = Describe("Facade over the memory store", func() {
	var (
		ctx    context.Context
		clock  *fakeClock
		facade *auth.Facade
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		store := memory.NewStore()
		hasher := fastHasher()
		secrets := auth.NewRandomSecretGenerator()

		sessions, err := auth.NewSessionService(store, hasher, secrets, auth.DefaultPolicy(), auth.WithClock(clock.Now))
		Expect(err).NotTo(HaveOccurred())
		creds, err := auth.NewCredentialService(store, hasher, secrets, auth.DefaultPolicy(), auth.WithClock(clock.Now))
		Expect(err).NotTo(HaveOccurred())
		facade, err = auth.NewFacade(sessions, creds)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("registration and login", func() {
		It("logs in with the registered password", func() {
			created, err := facade.CreateUser(ctx, "test@example.com", auth.ClientDigest("testtest"))
			Expect(err).NotTo(HaveOccurred())
			Expect(created.LoginTokenExpires).To(Equal(clock.now.Add(90 * 24 * time.Hour)))

			login, err := facade.LoginWithPassword(ctx, "test@example.com", auth.ClientDigest("testtest"))
			Expect(err).NotTo(HaveOccurred())
			Expect(login.UserID).To(Equal(created.UserID))
			Expect(login.LoginToken).NotTo(Equal(created.LoginToken))
		})

		It("rejects a second registration of the same email", func() {
			_, err := facade.CreateUser(ctx, "test@example.com", auth.ClientDigest("testtest"))
			Expect(err).NotTo(HaveOccurred())
			_, err = facade.CreateUser(ctx, "test@example.com", auth.ClientDigest("other"))
			Expect(kindOf(err)).To(Equal(auth.KindEmailAlreadyRegistered))
		})

		It("distinguishes unknown users from wrong passwords", func() {
			_, err := facade.LoginWithPassword(ctx, "nobody@example.com", auth.ClientDigest("x"))
			Expect(kindOf(err)).To(Equal(auth.KindUserNotFound))

			_, err = facade.CreateUser(ctx, "test@example.com", auth.ClientDigest("testtest"))
			Expect(err).NotTo(HaveOccurred())
			_, err = facade.LoginWithPassword(ctx, "test@example.com", auth.ClientDigest("wrong"))
			Expect(kindOf(err)).To(Equal(auth.KindInvalidCredential))
		})
	})

	Describe("changing the password", func() {
		var a, b, c *auth.LoginResponse

		BeforeEach(func() {
			var err error
			a, err = facade.CreateUser(ctx, "test@example.com", auth.ClientDigest("old"))
			Expect(err).NotTo(HaveOccurred())
			b, err = facade.LoginWithPassword(ctx, "test@example.com", auth.ClientDigest("old"))
			Expect(err).NotTo(HaveOccurred())
			c, err = facade.LoginWithPassword(ctx, "test@example.com", auth.ClientDigest("old"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps the calling session and revokes the rest", func() {
			ok, err := facade.ChangePassword(ctx, auth.ByToken(b.LoginToken), auth.ClientDigest("old"), auth.ClientDigest("new"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			_, err = facade.ValidateSession(ctx, b.LoginToken)
			Expect(err).NotTo(HaveOccurred())
			_, err = facade.ValidateSession(ctx, a.LoginToken)
			Expect(kindOf(err)).To(Equal(auth.KindSessionInvalid))
			_, err = facade.ValidateSession(ctx, c.LoginToken)
			Expect(kindOf(err)).To(Equal(auth.KindSessionInvalid))
		})

		It("revokes everything when an operator changes it by user id", func() {
			id, err := ulid.Parse(a.UserID)
			Expect(err).NotTo(HaveOccurred())

			_, err = facade.ChangePassword(ctx, auth.ByUserID(id), auth.ClientDigest("old"), auth.ClientDigest("new"))
			Expect(err).NotTo(HaveOccurred())
			for _, s := range []*auth.LoginResponse{a, b, c} {
				_, err = facade.ValidateSession(ctx, s.LoginToken)
				Expect(kindOf(err)).To(Equal(auth.KindSessionInvalid))
			}
		})

		It("changes nothing on a wrong old password", func() {
			_, err := facade.ChangePassword(ctx, auth.ByToken(a.LoginToken), auth.ClientDigest("guess"), auth.ClientDigest("new"))
			Expect(kindOf(err)).To(Equal(auth.KindInvalidCredential))

			for _, s := range []*auth.LoginResponse{a, b, c} {
				_, err = facade.ValidateSession(ctx, s.LoginToken)
				Expect(err).NotTo(HaveOccurred())
			}
		})
	})

	Describe("password reset", func() {
		It("completes the reset flow once", func() {
			session, err := facade.CreateUser(ctx, "test@example.com", auth.ClientDigest("old"))
			Expect(err).NotTo(HaveOccurred())

			token, err := facade.ResetToken(ctx, "test@example.com")
			Expect(err).NotTo(HaveOccurred())

			ok, err := facade.ResetPassword(ctx, token, auth.ClientDigest("new"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			_, err = facade.ValidateSession(ctx, session.LoginToken)
			Expect(kindOf(err)).To(Equal(auth.KindSessionInvalid))

			_, err = facade.ResetPassword(ctx, token, auth.ClientDigest("newer"))
			Expect(kindOf(err)).To(Equal(auth.KindResetTokenNotFound))

			_, err = facade.LoginWithPassword(ctx, "test@example.com", auth.ClientDigest("new"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a token past its lifetime", func() {
			_, err := facade.CreateUser(ctx, "test@example.com", auth.ClientDigest("old"))
			Expect(err).NotTo(HaveOccurred())
			token, err := facade.ResetToken(ctx, "test@example.com")
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(61 * time.Minute)
			_, err = facade.ResetPassword(ctx, token, auth.ClientDigest("new"))
			Expect(kindOf(err)).To(Equal(auth.KindResetTokenNotFound))
		})
	})

	Describe("logout", func() {
		It("is idempotent from the caller's point of view", func() {
			s, err := facade.CreateUser(ctx, "test@example.com", auth.ClientDigest("pw"))
			Expect(err).NotTo(HaveOccurred())
			id, err := ulid.Parse(s.UserID)
			Expect(err).NotTo(HaveOccurred())

			ok, err := facade.Logout(ctx, auth.ByUserID(id), s.LoginToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = facade.Logout(ctx, auth.ByUserID(id), s.LoginToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})
})
