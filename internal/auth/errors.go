// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Store-level sentinels. UserStore implementations wrap these so services can
// classify failures with errors.Is.
var (
	// ErrNotFound is returned when a requested user or token does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned by UserStore.Create when the email is already registered.
	ErrEmailTaken = errors.New("email already taken")

	// ErrStaleCredential is returned when a compare-and-set on the password hash
	// finds a different hash than expected.
	ErrStaleCredential = errors.New("stale credential")
)

// Domain sentinels surfaced by the services and the facade.
var (
	ErrUserNotFound           = errors.New("couldn't find user")
	ErrInvalidCredential      = errors.New("old password incorrect")
	ErrWeakOrEmptyCredential  = errors.New("password may not be empty")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrResetTokenNotFound     = errors.New("couldn't find user associated with reset token")
	ErrSessionInvalid         = errors.New("session is invalid or expired")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrInvalidArgument        = errors.New("invalid argument")
)

// Error codes attached with oops.Code.
const (
	CodeUserNotFound           = "AUTH_USER_NOT_FOUND"
	CodeInvalidCredential      = "AUTH_INVALID_CREDENTIAL"
	CodeWeakOrEmptyCredential  = "AUTH_WEAK_OR_EMPTY_CREDENTIAL"
	CodeEmailAlreadyRegistered = "AUTH_EMAIL_ALREADY_REGISTERED"
	CodeResetTokenNotFound     = "AUTH_RESET_TOKEN_NOT_FOUND"
	CodeSessionInvalid         = "AUTH_SESSION_INVALID"
	CodeStoreUnavailable       = "AUTH_STORE_UNAVAILABLE"
	CodeInvalidArgument        = "AUTH_INVALID_ARGUMENT"
)

// Kind classifies an error for the transport boundary.
type Kind string

// Error kinds.
const (
	KindUserNotFound           Kind = "UserNotFound"
	KindInvalidCredential      Kind = "InvalidCredential"
	KindWeakOrEmptyCredential  Kind = "WeakOrEmptyCredential"
	KindEmailAlreadyRegistered Kind = "EmailAlreadyRegistered"
	KindResetTokenNotFound     Kind = "ResetTokenNotFound"
	KindSessionInvalid         Kind = "SessionInvalid"
	KindStoreUnavailable       Kind = "StoreUnavailable"
	KindInvalidArgument        Kind = "InvalidArgument"
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindUserNotFound, ErrUserNotFound},
	{KindInvalidCredential, ErrInvalidCredential},
	{KindWeakOrEmptyCredential, ErrWeakOrEmptyCredential},
	{KindEmailAlreadyRegistered, ErrEmailAlreadyRegistered},
	{KindResetTokenNotFound, ErrResetTokenNotFound},
	{KindSessionInvalid, ErrSessionInvalid},
	{KindInvalidArgument, ErrInvalidArgument},
	{KindStoreUnavailable, ErrStoreUnavailable},
}

// KindOf returns the kind of err. Anything that is not a known auth failure is
// reported as KindStoreUnavailable. KindOf(nil) returns "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pub *Error
	if errors.As(err, &pub) {
		return pub.Kind
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindStoreUnavailable
}

// publicMessages are the only texts that reach the boundary.
var publicMessages = map[Kind]string{
	KindUserNotFound:           "Couldn't find user",
	KindInvalidCredential:      "Incorrect password",
	KindWeakOrEmptyCredential:  "Password may not be empty",
	KindEmailAlreadyRegistered: "Email already exists",
	KindResetTokenNotFound:     "Couldn't find user associated with reset token",
	KindSessionInvalid:         "Invalid or expired login token",
	KindStoreUnavailable:       "Service temporarily unavailable",
	KindInvalidArgument:        "Invalid request",
}

// Error is the boundary form of an auth failure. It carries a fixed public
// message and never the underlying cause.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is the domain sentinel for e's kind.
func (e *Error) Is(target error) bool {
	for _, ks := range kindSentinels {
		if ks.kind == e.Kind {
			return target == ks.err
		}
	}
	return false
}

// PublicError converts err into an *Error. For KindInvalidArgument the message
// names the offending field.
func PublicError(err error) *Error {
	kind := KindOf(err)
	msg := publicMessages[kind]
	if kind == KindInvalidArgument {
		if oopsErr, ok := oops.AsOops(err); ok {
			if field, ok := oopsErr.Context()["field"].(string); ok && field != "" {
				msg = field + " is required"
				if reason, ok := oopsErr.Context()["reason"].(string); ok && reason != "" {
					msg = field + " " + reason
				}
			}
		}
	}
	return &Error{Kind: kind, Message: msg}
}

// storeUnavailable wraps a store failure so it classifies as KindStoreUnavailable
// while keeping the cause for logs.
func storeUnavailable(operation string, err error) error {
	return oops.Code(CodeStoreUnavailable).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
}

// invalidArgument reports a missing or malformed input field.
func invalidArgument(field, reason string) error {
	b := oops.Code(CodeInvalidArgument).With("field", field)
	if reason != "" {
		b = b.With("reason", reason)
	}
	return b.Wrap(ErrInvalidArgument)
}
