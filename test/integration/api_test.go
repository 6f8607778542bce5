// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authcore/internal/auth"
)

type loginResult struct {
	UserID     string `json:"userId"`
	LoginToken string `json:"loginToken"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func call(method, path, bearer string, body any, out any) int {
	var buf bytes.Buffer
	switch {
	case body != nil:
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	case method == http.MethodPost:
		buf.WriteString("{}")
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, &buf)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}
	return resp.StatusCode
}

func credentials(email, password string) map[string]any {
	return map[string]any{"email": email, "password": auth.ClientDigest(password)}
}

func register(email, password string) loginResult {
	var res loginResult
	Expect(call(http.MethodPost, "/v1/users", "", credentials(email, password), &res)).To(Equal(http.StatusCreated))
	return res
}

func login(email, password string) loginResult {
	var res loginResult
	Expect(call(http.MethodPost, "/v1/login", "", credentials(email, password), &res)).To(Equal(http.StatusOK))
	return res
}

func countRows(query string, args ...any) int {
	var n int
	Expect(env.pool.QueryRow(env.ctx, query, args...).Scan(&n)).To(Succeed())
	return n
}

var _ = Describe("Auth API over PostgreSQL", func() {
	BeforeEach(func() {
		cleanupDatabase()
	})

	Describe("registration and sessions", func() {
		It("registers, logs in and validates sessions", func() {
			created := register("alice@example.com", "pw")
			second := login("alice@example.com", "pw")
			Expect(second.UserID).To(Equal(created.UserID))
			Expect(countRows("SELECT COUNT(*) FROM login_tokens WHERE user_id = $1", created.UserID)).To(Equal(2))

			var session map[string]string
			Expect(call(http.MethodGet, "/v1/session", second.LoginToken, nil, &session)).To(Equal(http.StatusOK))
			Expect(session["userId"]).To(Equal(created.UserID))
		})

		It("never stores raw login tokens", func() {
			created := register("alice@example.com", "pw")
			Expect(countRows("SELECT COUNT(*) FROM login_tokens WHERE token_hash = $1", created.LoginToken)).To(BeZero())
			Expect(countRows("SELECT COUNT(*) FROM login_tokens WHERE token_hash = $1", auth.HashToken(created.LoginToken))).To(Equal(1))
		})

		It("rejects a duplicate email with 409", func() {
			register("alice@example.com", "pw")
			var e apiError
			Expect(call(http.MethodPost, "/v1/users", "", credentials("alice@example.com", "other"), &e)).To(Equal(http.StatusConflict))
			Expect(e.Error).To(Equal("EmailAlreadyRegistered"))
			Expect(e.Message).To(Equal("Email already exists"))
		})

		It("logs out one session only", func() {
			first := register("alice@example.com", "pw")
			second := login("alice@example.com", "pw")

			Expect(call(http.MethodPost, "/v1/logout", first.LoginToken, nil, nil)).To(Equal(http.StatusOK))
			Expect(call(http.MethodGet, "/v1/session", first.LoginToken, nil, nil)).To(Equal(http.StatusUnauthorized))
			Expect(call(http.MethodGet, "/v1/session", second.LoginToken, nil, nil)).To(Equal(http.StatusOK))
		})
	})

	Describe("password change", func() {
		It("keeps the calling session and revokes the rest", func() {
			caller := register("alice@example.com", "old")
			other := login("alice@example.com", "old")

			body := map[string]any{
				"oldPassword": auth.ClientDigest("old"),
				"newPassword": auth.ClientDigest("new"),
			}
			Expect(call(http.MethodPost, "/v1/password/change", caller.LoginToken, body, nil)).To(Equal(http.StatusOK))

			Expect(call(http.MethodGet, "/v1/session", caller.LoginToken, nil, nil)).To(Equal(http.StatusOK))
			Expect(call(http.MethodGet, "/v1/session", other.LoginToken, nil, nil)).To(Equal(http.StatusUnauthorized))

			var e apiError
			Expect(call(http.MethodPost, "/v1/login", "", credentials("alice@example.com", "old"), &e)).To(Equal(http.StatusUnauthorized))
			Expect(e.Error).To(Equal("InvalidCredential"))
			login("alice@example.com", "new")
		})
	})

	Describe("password reset", func() {
		It("replaces the password and revokes every session", func() {
			created := register("alice@example.com", "old")

			var issued map[string]string
			Expect(call(http.MethodPost, "/v1/password/reset-token", "", map[string]string{"email": "alice@example.com"}, &issued)).
				To(Equal(http.StatusOK))
			Expect(issued["resetToken"]).NotTo(BeEmpty())
			Expect(countRows("SELECT COUNT(*) FROM reset_tokens WHERE user_id = $1", created.UserID)).To(Equal(1))

			body := map[string]any{"resetToken": issued["resetToken"], "newPassword": auth.ClientDigest("new")}
			Expect(call(http.MethodPost, "/v1/password/reset", "", body, nil)).To(Equal(http.StatusOK))

			Expect(countRows("SELECT COUNT(*) FROM reset_tokens WHERE user_id = $1", created.UserID)).To(BeZero())
			Expect(call(http.MethodGet, "/v1/session", created.LoginToken, nil, nil)).To(Equal(http.StatusUnauthorized))
			login("alice@example.com", "new")

			var e apiError
			Expect(call(http.MethodPost, "/v1/password/reset", "", body, &e)).To(Equal(http.StatusNotFound))
			Expect(e.Error).To(Equal("ResetTokenNotFound"))
		})

		It("keeps only the newest reset token", func() {
			register("alice@example.com", "pw")
			var first, second map[string]string
			req := map[string]string{"email": "alice@example.com"}
			Expect(call(http.MethodPost, "/v1/password/reset-token", "", req, &first)).To(Equal(http.StatusOK))
			Expect(call(http.MethodPost, "/v1/password/reset-token", "", req, &second)).To(Equal(http.StatusOK))

			body := map[string]any{"resetToken": first["resetToken"], "newPassword": auth.ClientDigest("new")}
			Expect(call(http.MethodPost, "/v1/password/reset", "", body, nil)).To(Equal(http.StatusNotFound))

			body["resetToken"] = second["resetToken"]
			Expect(call(http.MethodPost, "/v1/password/reset", "", body, nil)).To(Equal(http.StatusOK))
		})
	})

	Describe("expiry", func() {
		It("rejects expired sessions and sweeps them from the database", func() {
			created := register("alice@example.com", "pw")
			env.clock.advance(env.policy.SessionLifetime + time.Minute)

			Expect(call(http.MethodGet, "/v1/session", created.LoginToken, nil, nil)).To(Equal(http.StatusUnauthorized))

			sweeper, err := auth.NewSweeper(env.store, env.policy, time.Hour, nil, auth.WithClock(env.clock.now))
			Expect(err).NotTo(HaveOccurred())
			_, err = sweeper.RunOnce(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(countRows("SELECT COUNT(*) FROM login_tokens WHERE user_id = $1", created.UserID)).To(BeZero())
		})
	})
})
