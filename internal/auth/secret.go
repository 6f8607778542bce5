// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/samber/oops"
)

// SecretBytes is the entropy of every generated token (256 bits).
const SecretBytes = 32

// SecretGenerator produces opaque high-entropy secrets.
type SecretGenerator interface {
	NewSecret() (string, error)
}

// RandomSecretGenerator reads from crypto/rand and encodes base64url without padding.
type RandomSecretGenerator struct {
	src io.Reader
}

// NewRandomSecretGenerator creates a generator backed by crypto/rand.
func NewRandomSecretGenerator() *RandomSecretGenerator {
	return &RandomSecretGenerator{src: rand.Reader}
}

// NewSecret implements SecretGenerator.
func (g *RandomSecretGenerator) NewSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := io.ReadFull(g.src, b); err != nil {
		return "", oops.Code("AUTH_SECRET_FAILED").With("operation", "read random bytes").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest of a raw token. Only this value is
// ever persisted for login and reset tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyToken checks token against a stored hash in constant time.
func VerifyToken(token, tokenHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(tokenHash)) == 1
}

var _ SecretGenerator = (*RandomSecretGenerator)(nil)
