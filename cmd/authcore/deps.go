// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memory"
	"github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/control"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the configured user store.
	// Default: openStore
	StoreOpener func(ctx context.Context, cfg *config.Config) (UserStore, error)

	// HTTPServerFactory creates the API server.
	// Default: web.NewServer
	HTTPServerFactory func(addr string, handler http.Handler) Server

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ControlServerFactory creates the gRPC health server.
	// Default: control.NewGRPCServer
	ControlServerFactory func(component string, check control.Checker, cfg config.ControlConfig) (ControlServer, error)

	// ControlTLSLoader loads TLS config for the control server from a
	// certificates directory. Default: loadControlTLS
	ControlTLSLoader func(dir string) (*cryptotls.Config, error)

	// Ready is closed once every server is listening. Tests use it to
	// synchronise with startup.
	Ready chan<- struct{}
}

// UserStore is the store used by serve and the operator commands.
type UserStore interface {
	auth.UserStore
	Close()
}

// Server wraps the methods used from web.Server.
type Server interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Server
	Metrics() *observability.Metrics
	Registry() *prometheus.Registry
}

// ControlServer wraps the methods used from control.GRPCServer.
type ControlServer interface {
	Start(addr string, tlsConfig *cryptotls.Config) (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// memoryStore adds a no-op Close to the in-memory store.
type memoryStore struct {
	*memory.Store
}

func (memoryStore) Close() {}

// openStore opens the backend selected by cfg.Store.
func openStore(ctx context.Context, cfg *config.Config) (UserStore, error) {
	if cfg.Store == config.StoreMemory {
		return memoryStore{memory.NewStore()}, nil
	}
	s, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.ConnectConfig())
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newMigrator(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.StoreOpener == nil {
		d.StoreOpener = openStore
	}
	if d.HTTPServerFactory == nil {
		d.HTTPServerFactory = func(addr string, handler http.Handler) Server {
			return web.NewServer(addr, handler)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, observability.WithBuildInfo(version, commit))
		}
	}
	if d.ControlServerFactory == nil {
		d.ControlServerFactory = func(component string, check control.Checker, cfg config.ControlConfig) (ControlServer, error) {
			return control.NewGRPCServer(component, check, cfg.ProbeInterval.Std())
		}
	}
	if d.ControlTLSLoader == nil {
		d.ControlTLSLoader = loadControlTLS
	}
	return d
}
