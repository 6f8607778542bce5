// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/authcore/internal/auth"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// errRateLimited is the error value returned with 429 responses.
const errRateLimited = "RateLimited"

// Service is the auth surface served over HTTP. *auth.Facade implements it.
type Service interface {
	Ping() string
	CreateUser(ctx context.Context, email string, password auth.Proof) (*auth.LoginResponse, error)
	LoginWithPassword(ctx context.Context, email string, password auth.Proof) (*auth.LoginResponse, error)
	ChangePassword(ctx context.Context, id auth.Identifier, oldPassword, newPassword auth.Proof) (bool, error)
	Logout(ctx context.Context, id auth.Identifier, sessionToken string) (bool, error)
	ResetToken(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, resetToken string, newPassword auth.Proof) (bool, error)
	ValidateSession(ctx context.Context, sessionToken string) (ulid.ULID, error)
}

var _ Service = (*auth.Facade)(nil)

type credentialsRequest struct {
	Email    string     `json:"email"`
	Password auth.Proof `json:"password"`
}

type changePasswordRequest struct {
	LoginToken  string     `json:"loginToken"`
	OldPassword auth.Proof `json:"oldPassword"`
	NewPassword auth.Proof `json:"newPassword"`
}

type logoutRequest struct {
	LoginToken string `json:"loginToken"`
}

type resetTokenRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	ResetToken  string     `json:"resetToken"`
	NewPassword auth.Proof `json:"newPassword"`
}

type pingResponse struct {
	Ping string `json:"ping"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type resetTokenResponse struct {
	ResetToken string `json:"resetToken"`
}

type sessionResponse struct {
	UserID string `json:"userId"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type handlers struct {
	svc Service
}

func (h *handlers) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pingResponse{Ping: h.svc.Ping()})
}

func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.CreateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	token := firstNonEmpty(req.LoginToken, bearerToken(r))
	ok, err := h.svc.ChangePassword(r.Context(), auth.ByToken(token), req.OldPassword, req.NewPassword)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decode(w, r, &req) {
		return
	}
	token := firstNonEmpty(req.LoginToken, bearerToken(r))
	ok, err := h.svc.Logout(r.Context(), auth.ByToken(token), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (h *handlers) resetToken(w http.ResponseWriter, r *http.Request) {
	var req resetTokenRequest
	if !decode(w, r, &req) {
		return
	}
	token, err := h.svc.ResetToken(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resetTokenResponse{ResetToken: token})
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	ok, err := h.svc.ResetPassword(r.Context(), req.ResetToken, req.NewPassword)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	userID, err := h.svc.ValidateSession(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{UserID: userID.String()})
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   string(auth.KindInvalidArgument),
			Message: "Request body must be a valid JSON object",
		})
		return false
	}
	return true
}

// bearerToken returns the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindInvalidArgument, auth.KindWeakOrEmptyCredential:
		return http.StatusBadRequest
	case auth.KindUserNotFound, auth.KindResetTokenNotFound:
		return http.StatusNotFound
	case auth.KindInvalidCredential, auth.KindSessionInvalid:
		return http.StatusUnauthorized
	case auth.KindEmailAlreadyRegistered:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func writeError(w http.ResponseWriter, err error) {
	var pub *auth.Error
	if !errors.As(err, &pub) {
		pub = auth.PublicError(err)
	}
	writeJSON(w, statusFor(pub.Kind), errorResponse{Error: string(pub.Kind), Message: pub.Message})
}

// writeJSON writes v with status code. Responses are never cached.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errcheck // client may disconnect mid-response
	json.NewEncoder(w).Encode(v)
}
