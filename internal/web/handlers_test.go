// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memory"
)

func newFacade(t *testing.T) *auth.Facade {
	t.Helper()
	store := memory.NewStore()
	hasher := auth.NewUpgradingHasher(auth.NewBcryptHasher(4))
	secrets := auth.NewRandomSecretGenerator()

	sessions, err := auth.NewSessionService(store, hasher, secrets, auth.DefaultPolicy())
	require.NoError(t, err)
	creds, err := auth.NewCredentialService(store, hasher, secrets, auth.DefaultPolicy())
	require.NoError(t, err)
	facade, err := auth.NewFacade(sessions, creds)
	require.NoError(t, err)
	return facade
}

type apiClient struct {
	t       *testing.T
	handler http.Handler
}

func newAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()
	return &apiClient{t: t, handler: NewHandler(newFacade(t), opts...)}
}

func (c *apiClient) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *apiClient) post(path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, nil)
}

func (c *apiClient) register(email, password string) auth.LoginResponse {
	c.t.Helper()
	rec := c.post("/v1/users", map[string]any{"email": email, "password": auth.ClientDigest(password)})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp auth.LoginResponse
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestPing(t *testing.T) {
	api := newAPI(t)

	rec := api.do(http.MethodGet, "/ping", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ping":"pong"}`, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestCreateUserAndLogin(t *testing.T) {
	api := newAPI(t)

	created := api.register("test@example.com", "testtest")
	_, err := ulid.Parse(created.UserID)
	assert.NoError(t, err)
	assert.NotEmpty(t, created.LoginToken)
	assert.False(t, created.LoginTokenExpires.IsZero())

	rec := api.post("/v1/login", map[string]any{"email": "test@example.com", "password": auth.ClientDigest("testtest")})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[auth.LoginResponse](t, rec)
	assert.Equal(t, created.UserID, login.UserID)
	assert.NotEqual(t, created.LoginToken, login.LoginToken)

	rec = api.do(http.MethodGet, "/v1/session", nil, bearer(login.LoginToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.UserID, decodeBody[sessionResponse](t, rec).UserID)
}

func TestErrorStatuses(t *testing.T) {
	api := newAPI(t)
	api.register("taken@example.com", "testtest")

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode int
		wantKind auth.Kind
	}{
		{
			name:     "duplicate email",
			path:     "/v1/users",
			body:     map[string]any{"email": "taken@example.com", "password": auth.ClientDigest("x")},
			wantCode: http.StatusConflict,
			wantKind: auth.KindEmailAlreadyRegistered,
		},
		{
			name:     "unknown user",
			path:     "/v1/login",
			body:     map[string]any{"email": "nobody@example.com", "password": auth.ClientDigest("x")},
			wantCode: http.StatusNotFound,
			wantKind: auth.KindUserNotFound,
		},
		{
			name:     "wrong password",
			path:     "/v1/login",
			body:     map[string]any{"email": "taken@example.com", "password": auth.ClientDigest("wrong")},
			wantCode: http.StatusUnauthorized,
			wantKind: auth.KindInvalidCredential,
		},
		{
			name:     "empty password",
			path:     "/v1/users",
			body:     map[string]any{"email": "new@example.com", "password": auth.Proof{Algorithm: auth.ProofAlgorithmSHA256}},
			wantCode: http.StatusBadRequest,
			wantKind: auth.KindWeakOrEmptyCredential,
		},
		{
			name:     "missing email",
			path:     "/v1/login",
			body:     map[string]any{"password": auth.ClientDigest("x")},
			wantCode: http.StatusBadRequest,
			wantKind: auth.KindInvalidArgument,
		},
		{
			name:     "unknown reset token",
			path:     "/v1/password/reset",
			body:     map[string]any{"resetToken": "nope", "newPassword": auth.ClientDigest("x")},
			wantCode: http.StatusNotFound,
			wantKind: auth.KindResetTokenNotFound,
		},
		{
			name:     "unknown login token on change",
			path:     "/v1/password/change",
			body:     map[string]any{"loginToken": "nope", "oldPassword": auth.ClientDigest("a"), "newPassword": auth.ClientDigest("b")},
			wantCode: http.StatusNotFound,
			wantKind: auth.KindUserNotFound,
		},
		{
			name:     "malformed body",
			path:     "/v1/login",
			body:     `{"email":`,
			wantCode: http.StatusBadRequest,
			wantKind: auth.KindInvalidArgument,
		},
		{
			name:     "unknown field",
			path:     "/v1/login",
			body:     `{"email":"taken@example.com","pass":"x"}`,
			wantCode: http.StatusBadRequest,
			wantKind: auth.KindInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.post(tt.path, tt.body)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			resp := decodeBody[errorResponse](t, rec)
			assert.Equal(t, string(tt.wantKind), resp.Error)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		})
	}
}

func TestChangePassword(t *testing.T) {
	api := newAPI(t)
	first := api.register("test@example.com", "old")
	second := decodeBody[auth.LoginResponse](t, api.post("/v1/login",
		map[string]any{"email": "test@example.com", "password": auth.ClientDigest("old")}))

	rec := api.do(http.MethodPost, "/v1/password/change", map[string]any{
		"oldPassword": auth.ClientDigest("old"),
		"newPassword": auth.ClientDigest("new"),
	}, bearer(first.LoginToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[okResponse](t, rec).OK)

	rec = api.do(http.MethodGet, "/v1/session", nil, bearer(first.LoginToken))
	assert.Equal(t, http.StatusOK, rec.Code, "calling session survives")

	rec = api.do(http.MethodGet, "/v1/session", nil, bearer(second.LoginToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "other sessions are revoked")

	rec = api.post("/v1/login", map[string]any{"email": "test@example.com", "password": auth.ClientDigest("new")})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout(t *testing.T) {
	api := newAPI(t)
	created := api.register("test@example.com", "testtest")

	rec := api.post("/v1/logout", map[string]any{"loginToken": created.LoginToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[okResponse](t, rec).OK)

	rec = api.do(http.MethodGet, "/v1/session", nil, bearer(created.LoginToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.post("/v1/logout", map[string]any{"loginToken": created.LoginToken})
	assert.Equal(t, http.StatusNotFound, rec.Code, "token no longer identifies a user")

	rec = api.post("/v1/logout", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetFlow(t *testing.T) {
	api := newAPI(t)
	created := api.register("test@example.com", "old")

	rec := api.post("/v1/password/reset-token", map[string]any{"email": "test@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := decodeBody[resetTokenResponse](t, rec).ResetToken
	require.NotEmpty(t, token)

	rec = api.post("/v1/password/reset", map[string]any{"resetToken": token, "newPassword": auth.ClientDigest("new")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[okResponse](t, rec).OK)

	rec = api.post("/v1/password/reset", map[string]any{"resetToken": token, "newPassword": auth.ClientDigest("again")})
	assert.Equal(t, http.StatusNotFound, rec.Code, "reset tokens are single use")

	rec = api.do(http.MethodGet, "/v1/session", nil, bearer(created.LoginToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "reset revokes every session")

	rec = api.post("/v1/password/reset-token", map[string]any{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSession_RequiresBearer(t *testing.T) {
	api := newAPI(t)

	rec := api.do(http.MethodGet, "/v1/session", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/v1/session", nil, http.Header{"Authorization": []string{"Basic abc"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	api := newAPI(t)

	rec := api.do(http.MethodGet, "/v1/login", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestID(t *testing.T) {
	api := newAPI(t)

	rec := api.do(http.MethodGet, "/ping", nil, nil)
	generated := rec.Header().Get(RequestIDHeader)
	_, err := ulid.Parse(generated)
	assert.NoError(t, err, "generated ids are ULIDs")

	rec = api.do(http.MethodGet, "/ping", nil, http.Header{RequestIDHeader: []string{"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = api.do(http.MethodGet, "/ping", nil, http.Header{"x-request-id": []string{"lower-7"}})
	assert.Equal(t, "lower-7", rec.Header().Get(RequestIDHeader), "header name is case-insensitive")

	rec = api.do(http.MethodGet, "/ping", nil, http.Header{RequestIDHeader: []string{strings.Repeat("x", 500)}})
	assert.NotEqual(t, strings.Repeat("x", 500), rec.Header().Get(RequestIDHeader))
}

func TestRateLimitedEndpoints(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1, Burst: 2})
	t.Cleanup(rl.Close)
	api := newAPI(t, WithRateLimiter(rl))

	login := map[string]any{"email": "nobody@example.com", "password": auth.ClientDigest("x")}
	assert.Equal(t, http.StatusNotFound, api.post("/v1/login", login).Code)
	assert.Equal(t, http.StatusNotFound, api.post("/v1/login", login).Code)

	rec := api.post("/v1/login", login)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, errRateLimited, decodeBody[errorResponse](t, rec).Error)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusTooManyRequests, api.post("/v1/users", login).Code, "bucket is shared across endpoints")
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/ping", nil, nil).Code, "ping is not limited")
}

type failingService struct {
	Service
}

func (failingService) ValidateSession(context.Context, string) (ulid.ULID, error) {
	return ulid.ULID{}, errors.New("connection refused")
}

func TestUnclassifiedErrorsAreUnavailable(t *testing.T) {
	api := &apiClient{t: t, handler: NewHandler(failingService{})}

	rec := api.do(http.MethodGet, "/v1/session", nil, bearer("tok"))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, string(auth.KindStoreUnavailable), resp.Error)
	assert.NotContains(t, resp.Message, "connection refused")
}

func TestStatusFor(t *testing.T) {
	tests := map[auth.Kind]int{
		auth.KindInvalidArgument:        http.StatusBadRequest,
		auth.KindWeakOrEmptyCredential:  http.StatusBadRequest,
		auth.KindUserNotFound:           http.StatusNotFound,
		auth.KindResetTokenNotFound:     http.StatusNotFound,
		auth.KindInvalidCredential:      http.StatusUnauthorized,
		auth.KindSessionInvalid:         http.StatusUnauthorized,
		auth.KindEmailAlreadyRegistered: http.StatusConflict,
		auth.KindStoreUnavailable:       http.StatusServiceUnavailable,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}
