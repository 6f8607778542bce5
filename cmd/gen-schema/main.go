// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the config.yaml JSON Schema. With --check it
// fails instead when the committed file differs from the Config type.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/holomush/authcore/internal/config"
)

const defaultOut = "schemas/config.schema.json"

// errStale reports a committed schema that no longer matches.
var errStale = errors.New("schema is out of date; run gen-schema")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	fs.SetOutput(stdout)
	out := fs.StringP("out", "o", defaultOut, `output path, or "-" for stdout`)
	check := fs.Bool("check", false, "compare the output path with the generated schema")
	if err := fs.Parse(args); err != nil {
		return err
	}

	schema, err := config.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}
	schema = append(schema, '\n')

	switch {
	case *out == "-":
		if *check {
			return errors.New("--check needs a file path")
		}
		_, err := stdout.Write(schema)
		return err
	case *check:
		current, err := os.ReadFile(filepath.Clean(*out))
		if err != nil {
			return fmt.Errorf("reading %s: %w", *out, err)
		}
		if !bytes.Equal(current, schema) {
			return fmt.Errorf("%s: %w", *out, errStale)
		}
		fmt.Fprintf(stdout, "%s is up to date\n", *out)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(*out, schema, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", *out, err)
	}
	fmt.Fprintf(stdout, "Generated %s\n", *out)
	return nil
}
