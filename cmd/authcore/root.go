// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/xdg"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// defaultEnvFile is read from the working directory when present.
const defaultEnvFile = ".env"

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - email and password authentication service",
		Long: `authcore registers users, verifies passwords, issues and revokes
login tokens, and runs the password reset flow over a JSON HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/authcore/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before reading config (skipped when missing)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewCertsCmd())

	return cmd
}

// loadConfig reads configuration for cmd. An explicit --config file must
// exist; the XDG default is optional. Flags on cmd named in config.FlagKeys
// override file and environment values.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := config.LoadOptions{
		File:     configFile,
		Required: configFile != "",
		EnvFile:  envFile,
		Flags:    cmd.Flags(),
	}
	if opts.File == "" {
		path, err := xdg.ConfigFile()
		if err == nil {
			opts.File = path
		}
	}
	return config.Load(opts)
}
