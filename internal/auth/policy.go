// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Lifetime defaults.
const (
	DefaultSessionLifetime    = 90 * 24 * time.Hour
	DefaultResetTokenLifetime = time.Hour
)

// Policy holds the token lifetime constants.
type Policy struct {
	SessionLifetime    time.Duration
	ResetTokenLifetime time.Duration
}

// DefaultPolicy returns the default lifetimes.
func DefaultPolicy() Policy {
	return Policy{
		SessionLifetime:    DefaultSessionLifetime,
		ResetTokenLifetime: DefaultResetTokenLifetime,
	}
}

func (p Policy) withDefaults() Policy {
	if p.SessionLifetime <= 0 {
		p.SessionLifetime = DefaultSessionLifetime
	}
	if p.ResetTokenLifetime <= 0 {
		p.ResetTokenLifetime = DefaultResetTokenLifetime
	}
	return p
}

// Option configures a service.
type Option func(*options)

type options struct {
	logger           *slog.Logger
	now              func() time.Time
	hideUnknownUsers bool
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		now:    time.Now,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHiddenUnknownUsers makes login report unknown emails as InvalidCredential,
// verifying against a dummy hash so both paths take the same time.
func WithHiddenUnknownUsers(enabled bool) Option {
	return func(o *options) {
		o.hideUnknownUsers = enabled
	}
}

type identifierKind uint8

const (
	identifierNone identifierKind = iota
	identifierToken
	identifierUserID
)

// Identifier selects the user a credential operation applies to. Network
// callers identify by session token; ByUserID is for operator tooling.
type Identifier struct {
	kind   identifierKind
	token  string
	userID ulid.ULID
}

// ByToken identifies the user owning a session token.
func ByToken(sessionToken string) Identifier {
	return Identifier{kind: identifierToken, token: sessionToken}
}

// ByUserID identifies a user directly.
func ByUserID(id ulid.ULID) Identifier {
	return Identifier{kind: identifierUserID, userID: id}
}

// IsZero reports whether the identifier is unset or empty.
func (i Identifier) IsZero() bool {
	switch i.kind {
	case identifierToken:
		return i.token == ""
	case identifierUserID:
		return i.userID == (ulid.ULID{})
	default:
		return true
	}
}

// String describes the identifier without revealing the token.
func (i Identifier) String() string {
	switch i.kind {
	case identifierToken:
		return "token"
	case identifierUserID:
		return "user:" + i.userID.String()
	default:
		return "none"
	}
}
