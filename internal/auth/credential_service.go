// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// CredentialService changes passwords and manages the reset-token lifecycle.
type CredentialService struct {
	store   UserStore
	hasher  PasswordHasher
	secrets SecretGenerator
	policy  Policy
	opts    options
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(store UserStore, hasher PasswordHasher, secrets SecretGenerator, policy Policy, opts ...Option) (*CredentialService, error) {
	if store == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("secret generator is required")
	}
	return &CredentialService{
		store:   store,
		hasher:  hasher,
		secrets: secrets,
		policy:  policy.withDefaults(),
		opts:    applyOptions(opts),
	}, nil
}

// ChangePassword replaces the password of the user selected by id after
// verifying oldProof. With a token identifier every other login token is
// revoked; with a user id identifier all tokens are revoked. Any pending reset
// token is cleared. A wrong oldProof changes nothing.
func (s *CredentialService) ChangePassword(ctx context.Context, id Identifier, oldProof, newProof Proof) (bool, error) {
	user, usedTokenHash, err := resolveUser(ctx, s.store, id, true, s.opts.now(), s.policy.SessionLifetime)
	if err != nil {
		return false, err
	}

	if user.PasswordHash.IsZero() || !s.hasher.Verify(oldProof.Digest, user.PasswordHash) {
		return false, oops.Code(CodeInvalidCredential).
			With("user_id", user.ID.String()).
			Wrap(ErrInvalidCredential)
	}

	if newProof.IsBlank() {
		return false, oops.Code(CodeWeakOrEmptyCredential).Wrap(ErrWeakOrEmptyCredential)
	}

	next, err := s.hasher.Hash(newProof.Digest)
	if err != nil {
		return false, oops.Code("AUTH_HASH_FAILED").With("operation", "hash new password").Wrap(err)
	}

	expected := user.PasswordHash
	err = s.store.ApplyCredentialChange(ctx, user.ID, CredentialChange{
		Expected:      &expected,
		NewHash:       next,
		KeepTokenHash: usedTokenHash,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrStaleCredential):
			return false, oops.Code(CodeInvalidCredential).
				With("user_id", user.ID.String()).
				With("reason", "password changed concurrently").
				Wrap(ErrInvalidCredential)
		case errors.Is(err, ErrNotFound):
			return false, oops.Code(CodeUserNotFound).Wrap(ErrUserNotFound)
		default:
			return false, storeUnavailable("apply password change", err)
		}
	}

	s.opts.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", user.ID.String()),
		slog.String("identifier", id.String()))
	return true, nil
}

// RequestReset issues a reset token for the user registered under email,
// replacing any earlier one, and returns the raw token. Delivery is the
// caller's concern.
func (s *CredentialService) RequestReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code(CodeUserNotFound).Wrap(ErrUserNotFound)
		}
		return "", storeUnavailable("find user by email", err)
	}

	token, err := s.secrets.NewSecret()
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_GENERATION_FAILED").With("operation", "generate reset token").Wrap(err)
	}

	entry := ResetToken{
		TokenHash: HashToken(token),
		Purpose:   ResetPurpose,
		Email:     user.Email,
		IssuedAt:  s.opts.now().UTC(),
	}
	if err := s.store.SetResetToken(ctx, user.ID, entry); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code(CodeUserNotFound).Wrap(ErrUserNotFound)
		}
		return "", storeUnavailable("set reset token", err)
	}

	s.opts.logger.InfoContext(ctx, "reset token issued", slog.String("user_id", user.ID.String()))
	return token, nil
}

// ApplyReset sets the password of the user holding resetToken. The token is
// consumed and every login token of the user is revoked.
func (s *CredentialService) ApplyReset(ctx context.Context, resetToken string, newProof Proof) (bool, error) {
	if resetToken == "" {
		return false, oops.Code(CodeResetTokenNotFound).Wrap(ErrResetTokenNotFound)
	}

	tokenHash := HashToken(resetToken)
	user, err := s.store.FindByResetTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, oops.Code(CodeResetTokenNotFound).Wrap(ErrResetTokenNotFound)
		}
		return false, storeUnavailable("find user by reset token", err)
	}

	rt := user.ResetToken
	if rt == nil || !VerifyToken(resetToken, rt.TokenHash) || rt.Purpose != ResetPurpose {
		return false, oops.Code(CodeResetTokenNotFound).Wrap(ErrResetTokenNotFound)
	}
	if rt.Expired(s.opts.now(), s.policy.ResetTokenLifetime) {
		s.clearResetToken(ctx, user.ID)
		return false, oops.Code(CodeResetTokenNotFound).
			With("user_id", user.ID.String()).
			With("reason", "expired").
			Wrap(ErrResetTokenNotFound)
	}

	if newProof.IsBlank() {
		return false, oops.Code(CodeWeakOrEmptyCredential).Wrap(ErrWeakOrEmptyCredential)
	}

	next, err := s.hasher.Hash(newProof.Digest)
	if err != nil {
		return false, oops.Code("AUTH_HASH_FAILED").With("operation", "hash new password").Wrap(err)
	}

	err = s.store.ApplyCredentialChange(ctx, user.ID, CredentialChange{
		ResetTokenHash: tokenHash,
		NewHash:        next,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, oops.Code(CodeResetTokenNotFound).Wrap(ErrResetTokenNotFound)
		}
		return false, storeUnavailable("apply password reset", err)
	}

	s.opts.logger.InfoContext(ctx, "password reset applied", slog.String("user_id", user.ID.String()))
	return true, nil
}

func (s *CredentialService) clearResetToken(ctx context.Context, userID ulid.ULID) {
	if err := s.store.ClearResetToken(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		s.opts.logger.WarnContext(ctx, "failed to clear expired reset token",
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
	}
}
