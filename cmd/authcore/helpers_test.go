// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memory"
	"github.com/holomush/authcore/internal/config"
)

// testConfigYAML selects the memory store and a cheap hasher.
const testConfigYAML = `store: memory
auth:
  hash_algorithm: bcrypt
  bcrypt_cost: 4
`

// writeTestConfig writes a config file into a temp dir and points XDG at it.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML+extra), 0o600))
	return path
}

// useMemoryStore makes every operator command share one in-memory store.
func useMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewStore()
	prev := storeOpener
	storeOpener = func(context.Context, *config.Config) (UserStore, error) {
		return memoryStore{s}, nil
	}
	t.Cleanup(func() { storeOpener = prev })
	return s
}

// testFacade builds a facade over s configured like writeTestConfig.
func testFacade(t *testing.T, s *memory.Store) *auth.Facade {
	t.Helper()
	cfg := config.Default()
	cfg.Store = config.StoreMemory
	cfg.Auth.HashAlgorithm = auth.AlgorithmBcrypt
	cfg.Auth.BcryptCost = 4
	f, err := buildFacade(memoryStore{s}, &cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return f
}

// runCLI executes the root command with args and stdin.
func runCLI(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}
