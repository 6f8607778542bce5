// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProofAlgorithmSHA256 is the only client pre-hash algorithm accepted.
const ProofAlgorithmSHA256 = "sha-256"

// Proof is a client-supplied password after one round of client-side hashing.
// The server treats Digest as the secret input to its own hashing step.
type Proof struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// ClientDigest computes the Proof a client would send for plaintext.
func ClientDigest(plaintext string) Proof {
	sum := sha256.Sum256([]byte(plaintext))
	return Proof{Algorithm: ProofAlgorithmSHA256, Digest: hex.EncodeToString(sum[:])}
}

// IsBlank reports whether the digest is empty or whitespace-only.
func (p Proof) IsBlank() bool {
	return strings.TrimSpace(p.Digest) == ""
}

// ResetPurpose tags reset tokens issued by RequestReset.
const ResetPurpose = "reset"

// User is an identity record together with its credential state.
type User struct {
	ID           ulid.ULID
	Email        string
	PasswordHash PasswordHash
	LoginTokens  []LoginToken
	ResetToken   *ResetToken
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasLoginToken reports whether tokenHash is among the user's login tokens.
func (u *User) HasLoginToken(tokenHash string) bool {
	return u.LoginToken(tokenHash) != nil
}

// LoginToken returns the entry with tokenHash, or nil.
func (u *User) LoginToken(tokenHash string) *LoginToken {
	for i := range u.LoginTokens {
		if u.LoginTokens[i].TokenHash == tokenHash {
			return &u.LoginTokens[i]
		}
	}
	return nil
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.LoginTokens = append([]LoginToken(nil), u.LoginTokens...)
	if u.ResetToken != nil {
		rt := *u.ResetToken
		c.ResetToken = &rt
	}
	return &c
}

// LoginToken is a persisted proof of an active session. The raw token is never stored.
type LoginToken struct {
	TokenHash string
	IssuedAt  time.Time
}

// ExpiresAt returns when the token stops being valid under lifetime.
func (t LoginToken) ExpiresAt(lifetime time.Duration) time.Time {
	return t.IssuedAt.Add(lifetime)
}

// Expired reports whether the token is past its lifetime at now.
func (t LoginToken) Expired(now time.Time, lifetime time.Duration) bool {
	return now.After(t.ExpiresAt(lifetime))
}

// ResetToken is a single-use capability to set a new password.
type ResetToken struct {
	TokenHash string
	Purpose   string
	Email     string
	IssuedAt  time.Time
}

// Expired reports whether the reset token is past its lifetime at now.
func (t ResetToken) Expired(now time.Time, lifetime time.Duration) bool {
	return now.After(t.IssuedAt.Add(lifetime))
}
