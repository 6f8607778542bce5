// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session is the result of a successful login or registration. Token is the
// raw bearer secret; only HashToken(Token) is stored.
type Session struct {
	UserID    ulid.ULID
	Token     string
	ExpiresAt time.Time
}

// SessionService mints, validates and revokes login tokens.
type SessionService struct {
	store   UserStore
	hasher  PasswordHasher
	secrets SecretGenerator
	policy  Policy
	opts    options

	dummyOnce sync.Once
	dummyHash PasswordHash
}

// NewSessionService creates a SessionService.
func NewSessionService(store UserStore, hasher PasswordHasher, secrets SecretGenerator, policy Policy, opts ...Option) (*SessionService, error) {
	if store == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("secret generator is required")
	}
	return &SessionService{
		store:   store,
		hasher:  hasher,
		secrets: secrets,
		policy:  policy.withDefaults(),
		opts:    applyOptions(opts),
	}, nil
}

// Login verifies proof against the user registered under email and issues a
// new login token.
func (s *SessionService) Login(ctx context.Context, email string, proof Proof) (*Session, error) {
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if s.opts.hideUnknownUsers {
				s.hasher.Verify(proof.Digest, s.dummy())
				return nil, oops.Code(CodeInvalidCredential).Wrap(ErrInvalidCredential)
			}
			return nil, oops.Code(CodeUserNotFound).Wrap(ErrUserNotFound)
		}
		return nil, storeUnavailable("find user by email", err)
	}

	if user.PasswordHash.IsZero() || !s.hasher.Verify(proof.Digest, user.PasswordHash) {
		return nil, oops.Code(CodeInvalidCredential).
			With("user_id", user.ID.String()).
			Wrap(ErrInvalidCredential)
	}

	verified := s.upgradeHash(ctx, user, proof.Digest)

	session, err := s.issue(ctx, user.ID, verified)
	if errors.Is(err, ErrStaleCredential) {
		return nil, oops.Code(CodeInvalidCredential).
			With("user_id", user.ID.String()).
			With("reason", "password changed concurrently").
			Wrap(ErrInvalidCredential)
	}
	return session, err
}

// CreateUser registers email with the hash of proof and issues its first login token.
func (s *SessionService) CreateUser(ctx context.Context, email string, proof Proof) (*Session, error) {
	if proof.IsBlank() {
		return nil, oops.Code(CodeWeakOrEmptyCredential).Wrap(ErrWeakOrEmptyCredential)
	}

	hash, err := s.hasher.Hash(proof.Digest)
	if err != nil {
		return nil, oops.Code("AUTH_HASH_FAILED").With("operation", "hash new password").Wrap(err)
	}

	token, tokenHash, err := s.newToken()
	if err != nil {
		return nil, err
	}

	now := s.opts.now().UTC()
	user := &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: hash,
		LoginTokens:  []LoginToken{{TokenHash: tokenHash, IssuedAt: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, oops.Code(CodeEmailAlreadyRegistered).Wrap(ErrEmailAlreadyRegistered)
		}
		return nil, storeUnavailable("create user", err)
	}

	s.opts.logger.InfoContext(ctx, "user created", slog.String("user_id", user.ID.String()))

	return &Session{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: now.Add(s.policy.SessionLifetime),
	}, nil
}

// Logout removes the login token sessionToken from the user selected by id.
// It reports true iff exactly one entry was removed.
func (s *SessionService) Logout(ctx context.Context, id Identifier, sessionToken string) (bool, error) {
	user, _, err := resolveUser(ctx, s.store, id, false, s.opts.now(), s.policy.SessionLifetime)
	if err != nil {
		return false, err
	}

	removed, err := s.store.RemoveLoginTokenByHash(ctx, user.ID, HashToken(sessionToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, oops.Code(CodeUserNotFound).Wrap(ErrUserNotFound)
		}
		return false, storeUnavailable("remove login token", err)
	}
	return removed, nil
}

// ValidateSession returns the user owning sessionToken. Unknown and expired
// tokens fail with ErrSessionInvalid; expired entries are pruned.
func (s *SessionService) ValidateSession(ctx context.Context, sessionToken string) (*User, error) {
	if sessionToken == "" {
		return nil, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
	}

	tokenHash := HashToken(sessionToken)
	user, err := s.store.FindByLoginTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
		}
		return nil, storeUnavailable("find user by login token", err)
	}

	entry := user.LoginToken(tokenHash)
	if entry == nil {
		return nil, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
	}

	now := s.opts.now()
	if entry.Expired(now, s.policy.SessionLifetime) {
		pruneExpired(ctx, s.store, s.opts.logger, user.ID, now, s.policy.SessionLifetime)
		return nil, oops.Code(CodeSessionInvalid).
			With("user_id", user.ID.String()).
			Wrap(ErrSessionInvalid)
	}

	return user, nil
}

// issue appends a fresh login token to the user, provided the stored hash is
// still the verified one. A stale hash is returned as is for the caller to map.
func (s *SessionService) issue(ctx context.Context, userID ulid.ULID, verified PasswordHash) (*Session, error) {
	token, tokenHash, err := s.newToken()
	if err != nil {
		return nil, err
	}

	now := s.opts.now().UTC()
	if err := s.store.AddLoginToken(ctx, userID, verified, LoginToken{TokenHash: tokenHash, IssuedAt: now}); err != nil {
		switch {
		case errors.Is(err, ErrStaleCredential):
			return nil, err
		case errors.Is(err, ErrNotFound):
			return nil, oops.Code(CodeUserNotFound).Wrap(ErrUserNotFound)
		}
		return nil, storeUnavailable("add login token", err)
	}

	return &Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: now.Add(s.policy.SessionLifetime),
	}, nil
}

func (s *SessionService) newToken() (token, tokenHash string, err error) {
	token, err = s.secrets.NewSecret()
	if err != nil {
		return "", "", oops.Code("AUTH_TOKEN_GENERATION_FAILED").With("operation", "generate login token").Wrap(err)
	}
	return token, HashToken(token), nil
}

// upgradeHash rewrites a legacy or weaker hash after a successful verify and
// returns the hash now stored for the user. A concurrent password change wins
// over the upgrade.
func (s *SessionService) upgradeHash(ctx context.Context, user *User, secret string) PasswordHash {
	if !s.hasher.NeedsUpgrade(user.PasswordHash) {
		return user.PasswordHash
	}
	next, err := s.hasher.Hash(secret)
	if err != nil {
		s.opts.logger.WarnContext(ctx, "password rehash failed",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err))
		return user.PasswordHash
	}
	if err := s.store.SetPasswordHash(ctx, user.ID, user.PasswordHash, next); err != nil {
		if !errors.Is(err, ErrStaleCredential) {
			s.opts.logger.WarnContext(ctx, "password rehash not persisted",
				slog.String("user_id", user.ID.String()),
				slog.Any("error", err))
		}
		return user.PasswordHash
	}
	s.opts.logger.DebugContext(ctx, "password hash upgraded",
		slog.String("user_id", user.ID.String()),
		slog.String("from", user.PasswordHash.Algorithm),
		slog.String("to", next.Algorithm))
	return next
}

// fallbackDummyHash is a well-formed argon2id hash with the default
// parameters whose preimage is unknown. It stands in when the configured
// hasher cannot produce a dummy.
var fallbackDummyHash = PasswordHash{
	Algorithm: AlgorithmArgon2id,
	Digest:    "$argon2id$v=19$m=65536,t=1,p=4$a2RHTpxbaTXxu7BzixOtBg$Ldpl5pxVjTp/6QgdnP0FKwlhTOIZixx1AV5ZtvSuc2s",
}

// dummy returns a hash that never matches, computed once with the configured hasher.
func (s *SessionService) dummy() PasswordHash {
	s.dummyOnce.Do(func() {
		s.dummyHash = fallbackDummyHash
		secret, err := s.secrets.NewSecret()
		if err != nil {
			s.opts.logger.Warn("dummy hash secret unavailable, using fallback", slog.Any("error", err))
			return
		}
		h, err := s.hasher.Hash(secret)
		if err != nil {
			s.opts.logger.Warn("dummy hash failed, using fallback", slog.Any("error", err))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// resolveUser finds the user selected by id. For token identifiers it also
// returns the token hash used. When requireValid is set, an expired token does
// not identify anyone.
func resolveUser(ctx context.Context, store UserStore, id Identifier, requireValid bool, now time.Time, lifetime time.Duration) (*User, string, error) {
	var (
		user      *User
		tokenHash string
		err       error
	)
	switch id.kind {
	case identifierToken:
		if id.token == "" {
			return nil, "", oops.Code(CodeUserNotFound).Wrap(ErrUserNotFound)
		}
		tokenHash = HashToken(id.token)
		user, err = store.FindByLoginTokenHash(ctx, tokenHash)
	case identifierUserID:
		user, err = store.FindByID(ctx, id.userID)
	default:
		return nil, "", oops.Code(CodeUserNotFound).Wrap(ErrUserNotFound)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", oops.Code(CodeUserNotFound).With("identifier", id.String()).Wrap(ErrUserNotFound)
		}
		return nil, "", storeUnavailable("resolve user", err)
	}

	if requireValid && tokenHash != "" {
		entry := user.LoginToken(tokenHash)
		if entry == nil || entry.Expired(now, lifetime) {
			return nil, "", oops.Code(CodeUserNotFound).With("identifier", id.String()).Wrap(ErrUserNotFound)
		}
	}
	return user, tokenHash, nil
}

// pruneExpired drops the user's expired login tokens; failures are only logged.
func pruneExpired(ctx context.Context, store UserStore, logger *slog.Logger, userID ulid.ULID, now time.Time, lifetime time.Duration) {
	n, err := store.PruneLoginTokens(ctx, userID, now.Add(-lifetime))
	if err != nil {
		logger.WarnContext(ctx, "failed to prune expired login tokens",
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
		return
	}
	if n > 0 {
		logger.DebugContext(ctx, "pruned expired login tokens",
			slog.String("user_id", userID.String()),
			slog.Int64("count", n))
	}
}
