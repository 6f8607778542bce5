// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Password hash algorithm tags stored alongside the digest.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// PasswordHash is the server-side stored form of a password.
type PasswordHash struct {
	Algorithm string
	Digest    string
}

// IsZero reports whether no hash is set.
func (h PasswordHash) IsZero() bool {
	return h.Algorithm == "" && h.Digest == ""
}

// ErrEmptyPassword is returned when attempting to hash an empty secret.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides one-way salted hashing and verification.
type PasswordHasher interface {
	// Algorithm returns the tag written into hashes this hasher produces.
	Algorithm() string

	// Hash produces a salted hash of secret.
	Hash(secret string) (PasswordHash, error)

	// Verify reports whether secret matches hash. It never fails: a malformed
	// or foreign hash verifies as false.
	Verify(secret string, hash PasswordHash) bool

	// NeedsUpgrade reports whether hash should be recomputed with this hasher.
	NeedsUpgrade(hash PasswordHash) bool
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultArgon2Params are the OWASP-recommended argon2id parameters.
var DefaultArgon2Params = Argon2Params{
	Time:      1,
	MemoryKiB: 64 * 1024,
	Threads:   4,
}

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// Argon2idHasher implements PasswordHasher using argon2id in PHC string format.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates an Argon2idHasher with DefaultArgon2Params.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{params: DefaultArgon2Params}
}

// NewArgon2idHasherWithParams creates an Argon2idHasher with explicit parameters.
// Zero fields fall back to DefaultArgon2Params.
func NewArgon2idHasherWithParams(p Argon2Params) *Argon2idHasher {
	if p.Time == 0 {
		p.Time = DefaultArgon2Params.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = DefaultArgon2Params.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = DefaultArgon2Params.Threads
	}
	return &Argon2idHasher{params: p}
}

// Algorithm implements PasswordHasher.
func (h *Argon2idHasher) Algorithm() string {
	return AlgorithmArgon2id
}

// Hash implements PasswordHasher.
func (h *Argon2idHasher) Hash(secret string) (PasswordHash, error) {
	if secret == "" {
		return PasswordHash{}, ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return PasswordHash{}, oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return PasswordHash{Algorithm: AlgorithmArgon2id, Digest: encoded}, nil
}

// Verify implements PasswordHasher.
func (h *Argon2idHasher) Verify(secret string, hash PasswordHash) bool {
	if hash.Algorithm != AlgorithmArgon2id {
		return false
	}
	p, salt, expected, ok := parseArgon2id(hash.Digest)
	if !ok {
		return false
	}
	computed := argon2.IDKey([]byte(secret), salt, p.Time, p.MemoryKiB, p.Threads, uint32(len(expected))) //nolint:gosec // length bounded by parseArgon2id
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// NeedsUpgrade reports true for non-argon2id hashes and for argon2id hashes
// computed with different parameters.
func (h *Argon2idHasher) NeedsUpgrade(hash PasswordHash) bool {
	if hash.Algorithm != AlgorithmArgon2id {
		return true
	}
	p, _, _, ok := parseArgon2id(hash.Digest)
	if !ok {
		return true
	}
	return p != h.params
}

func parseArgon2id(encoded string) (Argon2Params, []byte, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return Argon2Params{}, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, false
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return Argon2Params{}, nil, nil, false
	}
	if threads == 0 || threads > 255 || iterations == 0 || memory == 0 {
		return Argon2Params{}, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > 1024 {
		return Argon2Params{}, nil, nil, false
	}

	return Argon2Params{Time: iterations, MemoryKiB: memory, Threads: uint8(threads)}, salt, key, true
}

// DefaultBcryptCost matches the cost used by the legacy account store.
const DefaultBcryptCost = 10

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. A cost outside bcrypt's range falls
// back to DefaultBcryptCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Algorithm implements PasswordHasher.
func (h *BcryptHasher) Algorithm() string {
	return AlgorithmBcrypt
}

// Hash implements PasswordHasher.
func (h *BcryptHasher) Hash(secret string) (PasswordHash, error) {
	if secret == "" {
		return PasswordHash{}, ErrEmptyPassword
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return PasswordHash{}, oops.Code("AUTH_HASH_FAILED").With("algorithm", AlgorithmBcrypt).Wrap(err)
	}
	return PasswordHash{Algorithm: AlgorithmBcrypt, Digest: string(digest)}, nil
}

// Verify implements PasswordHasher.
func (h *BcryptHasher) Verify(secret string, hash PasswordHash) bool {
	if hash.Algorithm != AlgorithmBcrypt {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash.Digest), []byte(secret)) == nil
}

// NeedsUpgrade reports true for non-bcrypt hashes and bcrypt hashes below the configured cost.
func (h *BcryptHasher) NeedsUpgrade(hash PasswordHash) bool {
	if hash.Algorithm != AlgorithmBcrypt {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash.Digest))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// UpgradingHasher hashes with a primary hasher and verifies hashes produced by
// the primary or any legacy hasher, dispatching on the algorithm tag.
type UpgradingHasher struct {
	primary PasswordHasher
	byAlg   map[string]PasswordHasher
}

// NewUpgradingHasher creates an UpgradingHasher.
func NewUpgradingHasher(primary PasswordHasher, legacy ...PasswordHasher) *UpgradingHasher {
	byAlg := make(map[string]PasswordHasher, len(legacy)+1)
	for _, l := range legacy {
		byAlg[l.Algorithm()] = l
	}
	byAlg[primary.Algorithm()] = primary
	return &UpgradingHasher{primary: primary, byAlg: byAlg}
}

// Algorithm implements PasswordHasher.
func (h *UpgradingHasher) Algorithm() string {
	return h.primary.Algorithm()
}

// Hash implements PasswordHasher.
func (h *UpgradingHasher) Hash(secret string) (PasswordHash, error) {
	return h.primary.Hash(secret) //nolint:wrapcheck // primary errors are already coded
}

// Verify implements PasswordHasher.
func (h *UpgradingHasher) Verify(secret string, hash PasswordHash) bool {
	hasher, ok := h.byAlg[hash.Algorithm]
	if !ok {
		return false
	}
	return hasher.Verify(secret, hash)
}

// NeedsUpgrade implements PasswordHasher.
func (h *UpgradingHasher) NeedsUpgrade(hash PasswordHash) bool {
	return h.primary.NeedsUpgrade(hash)
}

// NewHasher returns the hasher for a configured algorithm name. Hashes of the
// other supported algorithm remain verifiable and are upgraded on login.
func NewHasher(algorithm string, argon Argon2Params, bcryptCost int) (*UpgradingHasher, error) {
	a := NewArgon2idHasherWithParams(argon)
	b := NewBcryptHasher(bcryptCost)
	switch algorithm {
	case "", AlgorithmArgon2id:
		return NewUpgradingHasher(a, b), nil
	case AlgorithmBcrypt:
		return NewUpgradingHasher(b, a), nil
	default:
		return nil, oops.Code("AUTH_UNKNOWN_ALGORITHM").With("algorithm", algorithm).Errorf("unsupported password hash algorithm %q", algorithm)
	}
}

var (
	_ PasswordHasher = (*Argon2idHasher)(nil)
	_ PasswordHasher = (*BcryptHasher)(nil)
	_ PasswordHasher = (*UpgradingHasher)(nil)
)
