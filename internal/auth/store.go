// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// CredentialChange describes a password replacement applied atomically to one user.
// The pending reset token is always cleared.
type CredentialChange struct {
	// Expected, when non-nil, must equal the stored hash; otherwise the change
	// fails with ErrStaleCredential and nothing is written.
	Expected *PasswordHash

	// ResetTokenHash, when non-empty, must equal the pending reset token hash;
	// otherwise the change fails with ErrNotFound and nothing is written.
	ResetTokenHash string

	// NewHash replaces the stored password hash.
	NewHash PasswordHash

	// KeepTokenHash names the only login token that survives. Empty revokes all.
	KeepTokenHash string
}

// UserStore persists users and their credential state. Every mutator is atomic
// with respect to a single user: no caller observes a torn token set.
//
// Lookups return ErrNotFound (wrapped) when nothing matches.
type UserStore interface {
	// Create inserts a new user. Returns ErrEmailTaken if the email exists.
	Create(ctx context.Context, user *User) error

	FindByID(ctx context.Context, id ulid.ULID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByLoginTokenHash(ctx context.Context, tokenHash string) (*User, error)
	FindByResetTokenHash(ctx context.Context, tokenHash string) (*User, error)

	// SetPasswordHash replaces the hash only if the stored hash equals expected.
	SetPasswordHash(ctx context.Context, id ulid.ULID, expected, next PasswordHash) error

	// AddLoginToken appends token only while the stored hash still equals
	// expected, the hash the caller verified. Otherwise it returns
	// ErrStaleCredential and nothing is written.
	AddLoginToken(ctx context.Context, id ulid.ULID, expected PasswordHash, token LoginToken) error

	// RemoveLoginTokenByHash reports whether an entry was removed.
	RemoveLoginTokenByHash(ctx context.Context, id ulid.ULID, tokenHash string) (bool, error)

	// ReplaceLoginTokens removes every login token whose hash is not in keep
	// and returns the number removed.
	ReplaceLoginTokens(ctx context.Context, id ulid.ULID, keep []string) (int64, error)

	// PruneLoginTokens removes the user's tokens issued before issuedBefore.
	PruneLoginTokens(ctx context.Context, id ulid.ULID, issuedBefore time.Time) (int64, error)

	SetResetToken(ctx context.Context, id ulid.ULID, token ResetToken) error
	ClearResetToken(ctx context.Context, id ulid.ULID) error

	ApplyCredentialChange(ctx context.Context, id ulid.ULID, change CredentialChange) error

	// DeleteExpiredLoginTokens removes login tokens of all users issued before issuedBefore.
	DeleteExpiredLoginTokens(ctx context.Context, issuedBefore time.Time) (int64, error)

	// DeleteExpiredResetTokens removes reset tokens of all users issued before issuedBefore.
	DeleteExpiredResetTokens(ctx context.Context, issuedBefore time.Time) (int64, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
