// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the credential and session core of authcore.
//
// # Domain Types
//
// A User owns one PasswordHash, any number of LoginToken entries and at most
// one pending ResetToken. Raw login and reset tokens are handed to the caller
// exactly once; only HashToken of each is persisted.
//
// # Services
//
//   - SessionService - login, registration, logout, session validation
//   - CredentialService - password change and the reset-token lifecycle
//   - Facade - the boundary: input validation, error mapping, metrics, spans
//   - Sweeper - periodic removal of expired tokens
//
// Services depend on a UserStore, a PasswordHasher and a SecretGenerator. The
// memory and postgres subpackages provide UserStore implementations.
package auth
