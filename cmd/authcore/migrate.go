// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/store"
)

// migratorFactory opens a Migrator. Tests replace it.
var migratorFactory = newMigrator

// NewMigrateCmd creates the migrate subcommand. Without a subcommand it
// applies all pending migrations.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long:  `Apply, roll back, force or inspect the embedded schema migrations.`,
		RunE:  withMigrator(migrateUp),
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(migrateUp),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all authcore tables)",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(migrateDown),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "steps N",
		Short: "Apply N migrations, or roll back when N is negative",
		Args:  cobra.ExactArgs(1),
		RunE:  withMigrator(migrateSteps),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it (dirty schema recovery)",
		Args:  cobra.ExactArgs(1),
		RunE:  withMigrator(migrateForce),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(migrateStatus),
	})

	return cmd
}

type migrateFunc func(cmd *cobra.Command, args []string, m Migrator) error

// withMigrator resolves the database URL and opens a Migrator around fn.
func withMigrator(fn migrateFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return oops.With("operation", "load config").Wrap(err)
		}
		if cfg.Store != config.StorePostgres {
			return oops.Code("CONFIG_INVALID").Errorf("migrations require the postgres store, got %q", cfg.Store)
		}

		m, err := migratorFactory(cfg.DatabaseURL)
		if err != nil {
			return oops.Code("MIGRATION_INIT_FAILED").With("operation", "open migrator").Wrap(err)
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				cmd.PrintErrf("warning: %v\n", closeErr)
			}
		}()

		return fn(cmd, args, m)
	}
}

func migrateUp(cmd *cobra.Command, _ []string, m Migrator) error {
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

func migrateDown(cmd *cobra.Command, _ []string, m Migrator) error {
	cmd.Println("Rolling back all migrations...")
	if err := m.Down(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "roll back migrations").Wrap(err)
	}
	cmd.Println("Rollback completed successfully")
	return nil
}

func migrateSteps(cmd *cobra.Command, args []string, m Migrator) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n == 0 {
		return oops.Code("INVALID_ARGUMENT").Errorf("steps must be a non-zero integer, got %q", args[0])
	}
	if err := m.Steps(n); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "step migrations").Wrap(err)
	}
	cmd.Printf("Applied %d migration step(s)\n", n)
	return nil
}

func migrateForce(cmd *cobra.Command, args []string, m Migrator) error {
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return oops.Code("INVALID_ARGUMENT").Errorf("version must be an integer, got %q", args[0])
	}
	if err := m.Force(v); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "force version").Wrap(err)
	}
	cmd.Printf("Forced schema version to %d\n", v)
	return nil
}

func migrateStatus(cmd *cobra.Command, _ []string, m Migrator) error {
	st, err := m.Status()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "read status").Wrap(err)
	}
	cmd.Println(formatMigrationStatus(st))
	return nil
}

func formatMigrationStatus(st store.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current version: %d", st.Version)
	if st.Dirty {
		b.WriteString(" (dirty: run 'authcore migrate force' after fixing the schema)")
	}
	b.WriteString("\n")
	writeVersions(&b, "Applied", st.Applied)
	writeVersions(&b, "Pending", st.Pending)
	return strings.TrimRight(b.String(), "\n")
}

func writeVersions(b *strings.Builder, label string, versions []uint) {
	if len(versions) == 0 {
		fmt.Fprintf(b, "%s: none\n", label)
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, v := range versions {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		fmt.Fprintf(b, "  %s\n", name)
	}
}
