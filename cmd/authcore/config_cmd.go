// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/xdg"
)

// NewConfigCmd creates the config subcommand group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, validate and describe configuration files",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := configTarget(path)
			if err != nil {
				return err
			}
			if err := xdg.EnsureDir(filepath.Dir(target)); err != nil {
				return oops.Code("CONFIG_WRITE_FAILED").With("path", target).Wrap(err)
			}
			if err := config.WriteDefault(target, force); err != nil {
				if errors.Is(err, fs.ErrExist) {
					return oops.Code("CONFIG_EXISTS").With("path", target).
						Errorf("%s already exists (use --force to overwrite)", target)
				}
				return err
			}
			cmd.Printf("Wrote default configuration to %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "file to write (default: --config or XDG_CONFIG_HOME/authcore/config.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check a configuration file against the schema and cross-field rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			target, err := configTarget(path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Clean(target))
			if err != nil {
				return oops.Code("CONFIG_READ_FAILED").With("path", target).Wrap(err)
			}
			if err := config.ValidateYAML(data); err != nil {
				return oops.Code("CONFIG_SCHEMA_INVALID").With("path", target).
					Errorf("%s: %s", target, config.FormatSchemaError(err))
			}
			if _, err := config.Load(config.LoadOptions{File: target, Required: true, EnvFile: envFile}); err != nil {
				return err
			}
			cmd.Printf("%s is valid\n", target)
			return nil
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
			}
			cmd.Println(string(data))
			return nil
		},
	}
}

// configTarget picks explicit, then --config, then the XDG default.
func configTarget(explicit string) (string, error) {
	switch {
	case explicit != "":
		return explicit, nil
	case configFile != "":
		return configFile, nil
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		return "", oops.Code("CONFIG_PATH_FAILED").Wrap(err)
	}
	return path, nil
}
