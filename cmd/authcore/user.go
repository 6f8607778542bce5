// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/config"
)

// userTarget selects a user by id or email.
type userTarget struct {
	userID  string
	email   string
	timeout time.Duration
}

func (t *userTarget) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.userID, "user-id", "", "user ULID")
	cmd.Flags().StringVar(&t.email, "email", "", "user email (alternative to --user-id)")
	cmd.Flags().DurationVar(&t.timeout, "timeout", defaultOperatorTimeout, "timeout for store operations")
	cmd.MarkFlagsMutuallyExclusive("user-id", "email")
	cmd.MarkFlagsOneRequired("user-id", "email")
}

// resolve returns the selected user's id.
func (t *userTarget) resolve(ctx context.Context, userStore auth.UserStore) (ulid.ULID, error) {
	if t.userID != "" {
		id, err := ulid.Parse(t.userID)
		if err != nil {
			return ulid.ULID{}, oops.Code("INVALID_ARGUMENT").With("user_id", t.userID).Wrap(err)
		}
		return id, nil
	}
	user, err := userStore.FindByEmail(ctx, strings.TrimSpace(t.email))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return ulid.ULID{}, oops.Code("USER_NOT_FOUND").With("email", t.email).Errorf("no user with email %q", t.email)
		}
		return ulid.ULID{}, oops.Code("STORE_FAILED").With("operation", "find user by email").Wrap(err)
	}
	return user.ID, nil
}

// NewUserCmd creates the user subcommand group.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Operator account management",
		Long: `Create users, change passwords and revoke sessions directly against
the configured store, addressing users by id rather than login token.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserChangePasswordCmd())
	cmd.AddCommand(newUserRevokeSessionsCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var (
		email   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a user, prompting for the password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOperator(cmd, timeout, func(ctx context.Context, op *operator) error {
				password, err := op.prompt.newPassword()
				if err != nil {
					return err
				}
				resp, err := op.facade.CreateUser(ctx, email, auth.ClientDigest(password))
				if err != nil {
					return publicFailure("create user", err)
				}
				cmd.Printf("Created user %s (%s)\n", resp.UserID, email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email to register")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultOperatorTimeout, "timeout for store operations")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is defined above
	return cmd
}

func newUserChangePasswordCmd() *cobra.Command {
	target := &userTarget{}
	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change a user's password and revoke all of their sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOperator(cmd, target.timeout, func(ctx context.Context, op *operator) error {
				id, err := target.resolve(ctx, op.store)
				if err != nil {
					return err
				}
				oldPassword, err := op.prompt.read("Current password: ")
				if err != nil {
					return err
				}
				newPassword, err := op.prompt.newPassword()
				if err != nil {
					return err
				}
				if _, err := op.facade.ChangePassword(ctx, auth.ByUserID(id),
					auth.ClientDigest(oldPassword), auth.ClientDigest(newPassword)); err != nil {
					return publicFailure("change password", err)
				}
				cmd.Printf("Password changed for %s; all sessions revoked\n", id)
				return nil
			})
		},
	}
	target.register(cmd)
	return cmd
}

func newUserRevokeSessionsCmd() *cobra.Command {
	target := &userTarget{}
	var token string
	cmd := &cobra.Command{
		Use:   "revoke-sessions",
		Short: "Revoke one login token, or every login token, of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOperator(cmd, target.timeout, func(ctx context.Context, op *operator) error {
				id, err := target.resolve(ctx, op.store)
				if err != nil {
					return err
				}
				if token != "" {
					removed, err := op.facade.Logout(ctx, auth.ByUserID(id), token)
					if err != nil {
						return publicFailure("revoke session", err)
					}
					if !removed {
						cmd.Printf("Token is not a session of %s\n", id)
						return nil
					}
					cmd.Printf("Revoked 1 session of %s\n", id)
					return nil
				}
				n, err := op.store.ReplaceLoginTokens(ctx, id, nil)
				if err != nil {
					return oops.Code("STORE_FAILED").With("operation", "revoke sessions").Wrap(err)
				}
				slog.Info("revoked sessions", "user_id", id.String(), "count", n)
				cmd.Printf("Revoked %d session(s) of %s\n", n, id)
				return nil
			})
		},
	}
	target.register(cmd)
	cmd.Flags().StringVar(&token, "token", "", "revoke only this login token")
	return cmd
}

// operator bundles what the user commands need.
type operator struct {
	store  UserStore
	facade *auth.Facade
	prompt *passwordPrompt
}

// withOperator loads config, opens the store and runs fn with a timeout.
func withOperator(cmd *cobra.Command, timeout time.Duration, fn func(context.Context, *operator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return oops.With("operation", "load config").Wrap(err)
	}
	if cfg.Store == config.StoreMemory {
		slog.Warn("operator commands against the memory store have no lasting effect")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	userStore, err := storeOpener(ctx, cfg)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open user store").Wrap(err)
	}
	defer userStore.Close()

	facade, err := buildFacade(userStore, cfg, slog.Default())
	if err != nil {
		return err
	}
	return fn(ctx, &operator{
		store:  userStore,
		facade: facade,
		prompt: newPasswordPrompt(cmd.InOrStdin(), cmd.ErrOrStderr()),
	})
}

// publicFailure reports a facade error by its public message.
func publicFailure(operation string, err error) error {
	pub := auth.PublicError(err)
	return oops.Code(string(pub.Kind)).With("operation", operation).Errorf("%s", pub.Message)
}

// passwordPrompt reads passwords without echo from a terminal, or one per
// line from any other reader.
type passwordPrompt struct {
	in     io.Reader
	out    io.Writer
	lines  *bufio.Reader
	isTerm func() (int, bool)
}

func newPasswordPrompt(in io.Reader, out io.Writer) *passwordPrompt {
	p := &passwordPrompt{in: in, out: out, lines: bufio.NewReader(in)}
	p.isTerm = func() (int, bool) {
		f, ok := p.in.(*os.File)
		if !ok {
			return 0, false
		}
		fd := int(f.Fd()) //nolint:gosec // file descriptors fit in int
		return fd, term.IsTerminal(fd)
	}
	return p
}

func (p *passwordPrompt) read(label string) (string, error) {
	_, _ = io.WriteString(p.out, label)

	if fd, ok := p.isTerm(); ok {
		b, err := term.ReadPassword(fd)
		_, _ = io.WriteString(p.out, "\n")
		if err != nil {
			return "", oops.Code("PROMPT_FAILED").Wrap(err)
		}
		return string(b), nil
	}

	line, err := p.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", oops.Code("PROMPT_FAILED").Errorf("no password provided: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// newPassword prompts twice and requires two equal, non-empty entries.
func (p *passwordPrompt) newPassword() (string, error) {
	first, err := p.read("New password: ")
	if err != nil {
		return "", err
	}
	second, err := p.read("Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", oops.Code("PASSWORD_MISMATCH").Errorf("passwords do not match")
	}
	if first == "" {
		return "", oops.Code(string(auth.KindWeakOrEmptyCredential)).Errorf("password may not be empty")
	}
	return first, nil
}
