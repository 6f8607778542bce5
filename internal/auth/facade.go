// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/pkg/errutil"
)

const tracerName = "github.com/holomush/authcore/internal/auth"

// Operation names used for metrics, spans and logs.
const (
	OpCreateUser        = "createUser"
	OpLoginWithPassword = "loginWithPassword"
	OpChangePassword    = "changePassword"
	OpLogout            = "logout"
	OpResetToken        = "resetToken"
	OpResetPassword     = "resetPassword"
	OpValidateSession   = "validateSession"
)

// PingResponse is the fixed health-check literal.
const PingResponse = "pong"

// Sessions is the session half of the core consumed by the Facade.
type Sessions interface {
	Login(ctx context.Context, email string, proof Proof) (*Session, error)
	CreateUser(ctx context.Context, email string, proof Proof) (*Session, error)
	Logout(ctx context.Context, id Identifier, sessionToken string) (bool, error)
	ValidateSession(ctx context.Context, sessionToken string) (*User, error)
}

// Credentials is the credential half of the core consumed by the Facade.
type Credentials interface {
	ChangePassword(ctx context.Context, id Identifier, oldProof, newProof Proof) (bool, error)
	RequestReset(ctx context.Context, email string) (string, error)
	ApplyReset(ctx context.Context, resetToken string, newProof Proof) (bool, error)
}

// Recorder receives one observation per facade call. kind is empty on success.
type Recorder interface {
	RecordOperation(operation string, kind Kind, elapsed time.Duration)
}

// LoginResponse is returned by CreateUser and LoginWithPassword.
type LoginResponse struct {
	UserID            string    `json:"userId"`
	LoginToken        string    `json:"loginToken"`
	LoginTokenExpires time.Time `json:"loginTokenExpires"`
}

// Facade exposes the six auth operations to transport adapters. It validates
// input shape and converts every failure into an *Error.
type Facade struct {
	sessions    Sessions
	credentials Credentials
	recorder    Recorder
	logger      *slog.Logger
	tracer      trace.Tracer
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) FacadeOption {
	return func(f *Facade) {
		f.recorder = r
	}
}

// WithFacadeLogger sets the logger.
func WithFacadeLogger(l *slog.Logger) FacadeOption {
	return func(f *Facade) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) FacadeOption {
	return func(f *Facade) {
		if t != nil {
			f.tracer = t
		}
	}
}

// NewFacade creates a Facade.
func NewFacade(sessions Sessions, credentials Credentials, opts ...FacadeOption) (*Facade, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential service is required")
	}
	f := &Facade{
		sessions:    sessions,
		credentials: credentials,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Ping returns PingResponse.
func (f *Facade) Ping() string {
	return PingResponse
}

// CreateUser registers a new user and logs them in.
func (f *Facade) CreateUser(ctx context.Context, email string, password Proof) (resp *LoginResponse, err error) {
	ctx, done := f.begin(ctx, OpCreateUser)
	defer func() { err = done(err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, invalidArgument("email", "")
	}
	if err := validateAlgorithm("password", password); err != nil {
		return nil, err
	}

	s, err := f.sessions.CreateUser(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return toLoginResponse(s), nil
}

// LoginWithPassword authenticates email with password and issues a login token.
func (f *Facade) LoginWithPassword(ctx context.Context, email string, password Proof) (resp *LoginResponse, err error) {
	ctx, done := f.begin(ctx, OpLoginWithPassword)
	defer func() { err = done(err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, invalidArgument("email", "")
	}
	if err := validateAlgorithm("password", password); err != nil {
		return nil, err
	}

	s, err := f.sessions.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return toLoginResponse(s), nil
}

// ChangePassword replaces the password of the user selected by id.
func (f *Facade) ChangePassword(ctx context.Context, id Identifier, oldPassword, newPassword Proof) (ok bool, err error) {
	ctx, done := f.begin(ctx, OpChangePassword)
	defer func() { err = done(err) }()

	if id.IsZero() {
		return false, invalidArgument(identifierField(id), "")
	}
	if err := validateAlgorithm("oldPassword", oldPassword); err != nil {
		return false, err
	}
	if err := validateAlgorithm("newPassword", newPassword); err != nil {
		return false, err
	}

	return f.credentials.ChangePassword(ctx, id, oldPassword, newPassword)
}

// Logout revokes sessionToken for the user selected by id.
func (f *Facade) Logout(ctx context.Context, id Identifier, sessionToken string) (ok bool, err error) {
	ctx, done := f.begin(ctx, OpLogout)
	defer func() { err = done(err) }()

	if id.IsZero() {
		return false, invalidArgument(identifierField(id), "")
	}
	if sessionToken == "" {
		return false, invalidArgument("loginToken", "")
	}

	return f.sessions.Logout(ctx, id, sessionToken)
}

// ResetToken issues a password-reset token for email.
func (f *Facade) ResetToken(ctx context.Context, email string) (token string, err error) {
	ctx, done := f.begin(ctx, OpResetToken)
	defer func() { err = done(err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		return "", invalidArgument("email", "")
	}

	return f.credentials.RequestReset(ctx, email)
}

// ResetPassword sets a new password using a reset token.
func (f *Facade) ResetPassword(ctx context.Context, resetToken string, newPassword Proof) (ok bool, err error) {
	ctx, done := f.begin(ctx, OpResetPassword)
	defer func() { err = done(err) }()

	if resetToken == "" {
		return false, invalidArgument("resetToken", "")
	}
	if err := validateAlgorithm("newPassword", newPassword); err != nil {
		return false, err
	}

	return f.credentials.ApplyReset(ctx, resetToken, newPassword)
}

// ValidateSession returns the id of the user owning sessionToken.
func (f *Facade) ValidateSession(ctx context.Context, sessionToken string) (userID ulid.ULID, err error) {
	ctx, done := f.begin(ctx, OpValidateSession)
	defer func() { err = done(err) }()

	if sessionToken == "" {
		return ulid.ULID{}, invalidArgument("loginToken", "")
	}

	user, err := f.sessions.ValidateSession(ctx, sessionToken)
	if err != nil {
		return ulid.ULID{}, err
	}
	return user.ID, nil
}

// begin opens a span and returns a finisher that records the outcome and
// converts err to its public form.
func (f *Facade) begin(ctx context.Context, op string) (context.Context, func(error) error) {
	start := time.Now()
	ctx, span := f.tracer.Start(ctx, "auth."+op, trace.WithSpanKind(trace.SpanKindServer))

	return ctx, func(err error) error {
		defer span.End()

		var kind Kind
		var pub *Error
		if err != nil {
			pub = PublicError(err)
			kind = pub.Kind
			span.SetAttributes(attribute.String("auth.error_kind", string(kind)))
			span.SetStatus(codes.Error, string(kind))
			if kind == KindStoreUnavailable {
				span.RecordError(err)
				errutil.LogErrorContext(ctx, f.logger, "auth operation failed", err, slog.String("operation", op))
			} else {
				f.logger.DebugContext(ctx, "auth operation rejected",
					slog.String("operation", op),
					slog.String("kind", string(kind)),
					slog.Any("error", err))
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}

		if f.recorder != nil {
			f.recorder.RecordOperation(op, kind, time.Since(start))
		}
		if pub != nil {
			return pub
		}
		return nil
	}
}

func validateAlgorithm(field string, p Proof) error {
	switch p.Algorithm {
	case "":
		return invalidArgument(field+".algorithm", "")
	case ProofAlgorithmSHA256:
		return nil
	default:
		return invalidArgument(field+".algorithm", "must be "+ProofAlgorithmSHA256)
	}
}

func identifierField(id Identifier) string {
	if id.kind == identifierUserID {
		return "userId"
	}
	return "loginToken"
}

func toLoginResponse(s *Session) *LoginResponse {
	return &LoginResponse{
		UserID:            s.UserID.String(),
		LoginToken:        s.Token,
		LoginTokenExpires: s.ExpiresAt,
	}
}
