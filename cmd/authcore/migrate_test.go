// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/pkg/errutil"
)

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up() error { return m.Called().Error(0) }
func (m *mockMigrator) Down() error { return m.Called().Error(0) }
func (m *mockMigrator) Steps(n int) error { return m.Called(n).Error(0) }
func (m *mockMigrator) Force(v int) error { return m.Called(v).Error(0) }
func (m *mockMigrator) Close() error { return m.Called().Error(0) }
func (m *mockMigrator) Status() (store.Status, error) {
	args := m.Called()
	return args.Get(0).(store.Status), args.Error(1)
}

// useMigrator installs m and a postgres config.
func useMigrator(t *testing.T, m Migrator) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("DATABASE_URL", "postgres://test/authcore")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: postgres\n"), 0o600))
	prev := migratorFactory
	var gotURL string
	migratorFactory = func(url string) (Migrator, error) {
		gotURL = url
		return m, nil
	}
	t.Cleanup(func() {
		migratorFactory = prev
		assert.Equal(t, "postgres://test/authcore", gotURL)
	})
	return path
}

func TestMigrate_DefaultsToUp(t *testing.T) {
	m := &mockMigrator{}
	m.On("Up").Return(nil)
	m.On("Close").Return(nil)
	path := useMigrator(t, m)

	out, _, err := runCLI(t, "", "--config", path, "migrate", "--database-url", "postgres://test/authcore")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations completed successfully")
	m.AssertExpectations(t)
}

func TestMigrate_Subcommands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		setup   func(m *mockMigrator)
		wantOut string
	}{
		{
			name:    "up",
			args:    []string{"up"},
			setup:   func(m *mockMigrator) { m.On("Up").Return(nil) },
			wantOut: "Migrations completed successfully",
		},
		{
			name:    "down",
			args:    []string{"down"},
			setup:   func(m *mockMigrator) { m.On("Down").Return(nil) },
			wantOut: "Rollback completed successfully",
		},
		{
			name:    "steps back",
			args:    []string{"steps", "--", "-1"},
			setup:   func(m *mockMigrator) { m.On("Steps", -1).Return(nil) },
			wantOut: "Applied -1 migration step(s)",
		},
		{
			name:    "force",
			args:    []string{"force", "2"},
			setup:   func(m *mockMigrator) { m.On("Force", 2).Return(nil) },
			wantOut: "Forced schema version to 2",
		},
		{
			name: "status",
			args: []string{"status"},
			setup: func(m *mockMigrator) {
				m.On("Status").Return(store.Status{Version: 1, Applied: []uint{1}}, nil)
			},
			wantOut: "Current version: 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockMigrator{}
			tt.setup(m)
			m.On("Close").Return(nil)
			path := useMigrator(t, m)

			args := append([]string{"--config", path, "migrate"}, tt.args...)
			out, _, err := runCLI(t, "", args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.wantOut)
			m.AssertExpectations(t)
		})
	}
}

func TestMigrate_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero steps", []string{"steps", "0"}},
		{"non-numeric steps", []string{"steps", "many"}},
		{"non-numeric force", []string{"force", "latest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockMigrator{}
			m.On("Close").Return(nil)
			path := useMigrator(t, m)

			args := append([]string{"--config", path, "migrate"}, tt.args...)
			_, _, err := runCLI(t, "", args...)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "INVALID_ARGUMENT")
			m.AssertNotCalled(t, "Steps", mock.Anything)
			m.AssertNotCalled(t, "Force", mock.Anything)
		})
	}
}

func TestMigrate_FailureIsWrapped(t *testing.T) {
	m := &mockMigrator{}
	m.On("Up").Return(errors.New("dirty database version 2"))
	m.On("Close").Return(nil)
	path := useMigrator(t, m)

	_, _, err := runCLI(t, "", "--config", path, "migrate", "up")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	assert.Contains(t, err.Error(), "dirty database version 2")
}

func TestMigrate_RequiresPostgresStore(t *testing.T) {
	path := writeTestConfig(t, "")
	prev := migratorFactory
	migratorFactory = func(string) (Migrator, error) {
		t.Fatal("migrator must not be opened for the memory store")
		return nil, nil
	}
	t.Cleanup(func() { migratorFactory = prev })

	_, _, err := runCLI(t, "", "--config", path, "migrate", "status")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestFormatMigrationStatus(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		got := formatMigrationStatus(store.Status{Version: 0, Pending: []uint{1}})
		assert.Equal(t, "Current version: 0\nApplied: none\nPending:\n  000001_create_users", got)
	})

	t.Run("dirty", func(t *testing.T) {
		got := formatMigrationStatus(store.Status{Version: 1, Dirty: true, Applied: []uint{1}})
		assert.Contains(t, got, "Current version: 1 (dirty: run 'authcore migrate force' after fixing the schema)")
		assert.Contains(t, got, "Pending: none")
	})

	t.Run("unknown version", func(t *testing.T) {
		got := formatMigrationStatus(store.Status{Version: 99, Applied: []uint{99}})
		assert.Contains(t, got, "  000099")
	})
}
