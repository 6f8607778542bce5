// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/authcore/internal/auth"
)

// mockUserStore is a mock for auth.UserStore.
type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) user(args mock.Arguments) (*auth.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *mockUserStore) Create(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return m.user(m.Called(ctx, id))
}

func (m *mockUserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return m.user(m.Called(ctx, email))
}

func (m *mockUserStore) FindByLoginTokenHash(ctx context.Context, tokenHash string) (*auth.User, error) {
	return m.user(m.Called(ctx, tokenHash))
}

func (m *mockUserStore) FindByResetTokenHash(ctx context.Context, tokenHash string) (*auth.User, error) {
	return m.user(m.Called(ctx, tokenHash))
}

func (m *mockUserStore) SetPasswordHash(ctx context.Context, id ulid.ULID, expected, next auth.PasswordHash) error {
	return m.Called(ctx, id, expected, next).Error(0)
}

func (m *mockUserStore) AddLoginToken(ctx context.Context, id ulid.ULID, expected auth.PasswordHash, token auth.LoginToken) error {
	return m.Called(ctx, id, expected, token).Error(0)
}

func (m *mockUserStore) RemoveLoginTokenByHash(ctx context.Context, id ulid.ULID, tokenHash string) (bool, error) {
	args := m.Called(ctx, id, tokenHash)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserStore) ReplaceLoginTokens(ctx context.Context, id ulid.ULID, keep []string) (int64, error) {
	args := m.Called(ctx, id, keep)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserStore) PruneLoginTokens(ctx context.Context, id ulid.ULID, issuedBefore time.Time) (int64, error) {
	args := m.Called(ctx, id, issuedBefore)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserStore) SetResetToken(ctx context.Context, id ulid.ULID, token auth.ResetToken) error {
	return m.Called(ctx, id, token).Error(0)
}

func (m *mockUserStore) ClearResetToken(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserStore) ApplyCredentialChange(ctx context.Context, id ulid.ULID, change auth.CredentialChange) error {
	return m.Called(ctx, id, change).Error(0)
}

func (m *mockUserStore) DeleteExpiredLoginTokens(ctx context.Context, issuedBefore time.Time) (int64, error) {
	args := m.Called(ctx, issuedBefore)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserStore) DeleteExpiredResetTokens(ctx context.Context, issuedBefore time.Time) (int64, error) {
	args := m.Called(ctx, issuedBefore)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// mockSessions is a mock for auth.Sessions.
type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) session(args mock.Arguments) (*auth.Session, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

func (m *mockSessions) Login(ctx context.Context, email string, proof auth.Proof) (*auth.Session, error) {
	return m.session(m.Called(ctx, email, proof))
}

func (m *mockSessions) CreateUser(ctx context.Context, email string, proof auth.Proof) (*auth.Session, error) {
	return m.session(m.Called(ctx, email, proof))
}

func (m *mockSessions) Logout(ctx context.Context, id auth.Identifier, sessionToken string) (bool, error) {
	args := m.Called(ctx, id, sessionToken)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessions) ValidateSession(ctx context.Context, sessionToken string) (*auth.User, error) {
	args := m.Called(ctx, sessionToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

// mockCredentials is a mock for auth.Credentials.
type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) ChangePassword(ctx context.Context, id auth.Identifier, oldProof, newProof auth.Proof) (bool, error) {
	args := m.Called(ctx, id, oldProof, newProof)
	return args.Bool(0), args.Error(1)
}

func (m *mockCredentials) RequestReset(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *mockCredentials) ApplyReset(ctx context.Context, resetToken string, newProof auth.Proof) (bool, error) {
	args := m.Called(ctx, resetToken, newProof)
	return args.Bool(0), args.Error(1)
}

// mockRecorder is a mock for auth.Recorder.
type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordOperation(operation string, kind auth.Kind, elapsed time.Duration) {
	m.Called(operation, kind, elapsed)
}

// stubSecrets returns a fixed sequence of secrets.
type stubSecrets struct {
	next []string
	err  error
}

func (s *stubSecrets) NewSecret() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if len(s.next) == 0 {
		return ulid.Make().String(), nil
	}
	v := s.next[0]
	s.next = s.next[1:]
	return v, nil
}

// fastHasher keeps argon2id cheap in tests.
func fastHasher() *auth.UpgradingHasher {
	return auth.NewUpgradingHasher(
		auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1}),
		auth.NewBcryptHasher(4),
	)
}

// fakeClock is a settable time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// gatedHasher pauses the first successful Verify until release is closed,
// signalling verified once the pause begins.
type gatedHasher struct {
	auth.PasswordHasher
	once     sync.Once
	verified chan struct{}
	release  chan struct{}
}

func newGatedHasher(inner auth.PasswordHasher) *gatedHasher {
	return &gatedHasher{
		PasswordHasher: inner,
		verified:       make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (h *gatedHasher) Verify(secret string, hash auth.PasswordHash) bool {
	ok := h.PasswordHasher.Verify(secret, hash)
	if ok {
		h.once.Do(func() {
			close(h.verified)
			<-h.release
		})
	}
	return ok
}

// brokenHasher fails every Hash and records the hashes it is asked to verify.
type brokenHasher struct {
	auth.PasswordHasher
	mu       sync.Mutex
	verified []auth.PasswordHash
}

func (h *brokenHasher) Hash(string) (auth.PasswordHash, error) {
	return auth.PasswordHash{}, errors.New("hasher offline")
}

func (h *brokenHasher) Verify(_ string, hash auth.PasswordHash) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.verified = append(h.verified, hash)
	return false
}
