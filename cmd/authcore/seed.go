// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/config"
)

// Fixture account created by seed.
const (
	seedEmail    = "test@example.com"
	seedPassword = "testtest"
)

// Default timeout for seed and user commands.
const defaultOperatorTimeout = 30 * time.Second

// storeOpener opens the store for operator commands. Tests replace it.
var storeOpener = openStore

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	email    string
	password string
	timeout  time.Duration
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the development fixture user",
		Long: `Creates the fixture user test@example.com with password "testtest".
This command is idempotent - an existing user with that email is left alone.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.email, "email", seedEmail, "fixture email")
	cmd.Flags().StringVar(&cfg.password, "password", seedPassword, "fixture plaintext password (sha-256 pre-hashed before storage)")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultOperatorTimeout, "timeout for database operations (e.g., 30s, 1m)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")

	return cmd
}

func runSeed(cmd *cobra.Command, sc *seedConfig) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return oops.With("operation", "load config").Wrap(err)
	}
	if cfg.Store == config.StoreMemory {
		slog.Warn("seeding the memory store has no lasting effect")
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), sc.timeout)
	defer cancel()

	cmd.Println("Connecting to user store...")
	userStore, err := storeOpener(ctx, cfg)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open user store").Wrap(err)
	}
	defer userStore.Close()

	created, err := seedUser(ctx, userStore, cfg, sc.email, auth.ClientDigest(sc.password))
	if err != nil {
		return err
	}
	if !created {
		cmd.Printf("User %s already exists, skipping seed\n", sc.email)
		return nil
	}
	cmd.Printf("Created fixture user: %s\n", sc.email)
	return nil
}

// seedUser stores a user with proof as its password unless email is taken.
// It reports whether a user was created.
func seedUser(ctx context.Context, userStore auth.UserStore, cfg *config.Config, email string, proof auth.Proof) (bool, error) {
	_, err := userStore.FindByEmail(ctx, email)
	switch {
	case err == nil:
		slog.Info("fixture user already seeded", "email", email)
		return false, nil
	case !errors.Is(err, auth.ErrNotFound):
		return false, oops.Code("SEED_FAILED").With("operation", "find fixture user").Wrap(err)
	}

	hasher, err := cfg.Hasher()
	if err != nil {
		return false, oops.Code("HASHER_INIT_FAILED").Wrap(err)
	}
	hash, err := hasher.Hash(proof.Digest)
	if err != nil {
		return false, oops.Code("SEED_FAILED").With("operation", "hash fixture password").Wrap(err)
	}

	now := time.Now().UTC()
	user := &auth.User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := userStore.Create(ctx, user); err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			// Lost a race with a concurrent seed or registration.
			slog.Info("fixture user already seeded", "email", email)
			return false, nil
		}
		return false, oops.Code("SEED_FAILED").With("operation", "create fixture user").Wrap(err)
	}

	slog.Info("created fixture user", "id", user.ID.String(), "email", email)
	return true, nil
}
