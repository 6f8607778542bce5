// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process auth.UserStore.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// Store keeps users in maps guarded by a single lock. Every mutator runs under
// the write lock, so per-user updates are atomic. Returned users are copies.
type Store struct {
	mu         sync.RWMutex
	users      map[ulid.ULID]*auth.User
	byEmail    map[string]ulid.ULID
	byToken    map[string]ulid.ULID
	byResetTok map[string]ulid.ULID
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:      make(map[ulid.ULID]*auth.User),
		byEmail:    make(map[string]ulid.ULID),
		byToken:    make(map[string]ulid.ULID),
		byResetTok: make(map[string]ulid.ULID),
	}
}

func notFound(op string) error {
	return oops.Code("USER_NOT_FOUND").With("operation", op).Wrap(auth.ErrNotFound)
}

// Create implements auth.UserStore.
func (s *Store) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return oops.Code("USER_EMAIL_TAKEN").With("operation", "create user").Wrap(auth.ErrEmailTaken)
	}
	if _, ok := s.users[user.ID]; ok {
		return oops.With("operation", "create user").Errorf("user id %s already exists", user.ID)
	}

	u := user.Clone()
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	for _, t := range u.LoginTokens {
		s.byToken[t.TokenHash] = u.ID
	}
	if u.ResetToken != nil {
		s.byResetTok[u.ResetToken.TokenHash] = u.ID
	}
	return nil
}

// FindByID implements auth.UserStore.
func (s *Store) FindByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id, "find by id")
}

// FindByEmail implements auth.UserStore.
func (s *Store) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, notFound("find by email")
	}
	return s.get(id, "find by email")
}

// FindByLoginTokenHash implements auth.UserStore.
func (s *Store) FindByLoginTokenHash(_ context.Context, tokenHash string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[tokenHash]
	if !ok {
		return nil, notFound("find by login token")
	}
	return s.get(id, "find by login token")
}

// FindByResetTokenHash implements auth.UserStore.
func (s *Store) FindByResetTokenHash(_ context.Context, tokenHash string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byResetTok[tokenHash]
	if !ok {
		return nil, notFound("find by reset token")
	}
	return s.get(id, "find by reset token")
}

// SetPasswordHash implements auth.UserStore.
func (s *Store) SetPasswordHash(_ context.Context, id ulid.ULID, expected, next auth.PasswordHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("set password hash")
	}
	if u.PasswordHash != expected {
		return oops.Code("USER_STALE_CREDENTIAL").With("operation", "set password hash").Wrap(auth.ErrStaleCredential)
	}
	u.PasswordHash = next
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// AddLoginToken implements auth.UserStore.
func (s *Store) AddLoginToken(_ context.Context, id ulid.ULID, expected auth.PasswordHash, token auth.LoginToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("add login token")
	}
	if u.PasswordHash != expected {
		return oops.Code("USER_STALE_CREDENTIAL").With("operation", "add login token").Wrap(auth.ErrStaleCredential)
	}
	u.LoginTokens = append(u.LoginTokens, token)
	s.byToken[token.TokenHash] = id
	return nil
}

// RemoveLoginTokenByHash implements auth.UserStore.
func (s *Store) RemoveLoginTokenByHash(_ context.Context, id ulid.ULID, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false, notFound("remove login token")
	}
	n := s.removeTokens(u, func(t auth.LoginToken) bool { return t.TokenHash == tokenHash })
	return n == 1, nil
}

// ReplaceLoginTokens implements auth.UserStore.
func (s *Store) ReplaceLoginTokens(_ context.Context, id ulid.ULID, keep []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, notFound("replace login tokens")
	}
	return s.removeTokens(u, func(t auth.LoginToken) bool { return !slices.Contains(keep, t.TokenHash) }), nil
}

// PruneLoginTokens implements auth.UserStore.
func (s *Store) PruneLoginTokens(_ context.Context, id ulid.ULID, issuedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, notFound("prune login tokens")
	}
	return s.removeTokens(u, func(t auth.LoginToken) bool { return t.IssuedAt.Before(issuedBefore) }), nil
}

// SetResetToken implements auth.UserStore.
func (s *Store) SetResetToken(_ context.Context, id ulid.ULID, token auth.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("set reset token")
	}
	s.dropReset(u)
	rt := token
	u.ResetToken = &rt
	s.byResetTok[rt.TokenHash] = id
	return nil
}

// ClearResetToken implements auth.UserStore.
func (s *Store) ClearResetToken(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("clear reset token")
	}
	s.dropReset(u)
	return nil
}

// ApplyCredentialChange implements auth.UserStore.
func (s *Store) ApplyCredentialChange(_ context.Context, id ulid.ULID, change auth.CredentialChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("apply credential change")
	}
	if change.Expected != nil && u.PasswordHash != *change.Expected {
		return oops.Code("USER_STALE_CREDENTIAL").With("operation", "apply credential change").Wrap(auth.ErrStaleCredential)
	}
	if change.ResetTokenHash != "" && (u.ResetToken == nil || u.ResetToken.TokenHash != change.ResetTokenHash) {
		return oops.Code("RESET_TOKEN_NOT_FOUND").With("operation", "apply credential change").Wrap(auth.ErrNotFound)
	}

	u.PasswordHash = change.NewHash
	u.UpdatedAt = time.Now().UTC()
	s.removeTokens(u, func(t auth.LoginToken) bool {
		return change.KeepTokenHash == "" || t.TokenHash != change.KeepTokenHash
	})
	s.dropReset(u)
	return nil
}

// DeleteExpiredLoginTokens implements auth.UserStore.
func (s *Store) DeleteExpiredLoginTokens(_ context.Context, issuedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, u := range s.users {
		total += s.removeTokens(u, func(t auth.LoginToken) bool { return t.IssuedAt.Before(issuedBefore) })
	}
	return total, nil
}

// DeleteExpiredResetTokens implements auth.UserStore.
func (s *Store) DeleteExpiredResetTokens(_ context.Context, issuedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, u := range s.users {
		if u.ResetToken != nil && u.ResetToken.IssuedAt.Before(issuedBefore) {
			s.dropReset(u)
			total++
		}
	}
	return total, nil
}

// Ping implements auth.UserStore.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Store) get(id ulid.ULID, op string) (*auth.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, notFound(op)
	}
	return u.Clone(), nil
}

// removeTokens deletes the user's tokens matching drop. Caller holds the write lock.
func (s *Store) removeTokens(u *auth.User, drop func(auth.LoginToken) bool) int64 {
	var removed int64
	kept := u.LoginTokens[:0]
	for _, t := range u.LoginTokens {
		if drop(t) {
			delete(s.byToken, t.TokenHash)
			removed++
			continue
		}
		kept = append(kept, t)
	}
	u.LoginTokens = kept
	return removed
}

// dropReset clears the user's reset token. Caller holds the write lock.
func (s *Store) dropReset(u *auth.User) {
	if u.ResetToken != nil {
		delete(s.byResetTok, u.ResetToken.TokenHash)
		u.ResetToken = nil
	}
}

var _ auth.UserStore = (*Store)(nil)
