// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control exposes the standard gRPC health service for process
// supervisors and the `authcore status` command.
package control

import (
	"context"
	cryptotls "crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "authcore.v1.Auth"

// DefaultProbeInterval is how often the dependency check runs.
const DefaultProbeInterval = 10 * time.Second

// probeTimeout bounds one dependency check.
const probeTimeout = 2 * time.Second

// Checker reports whether the process dependencies are healthy. It is
// normally the user store's Ping.
type Checker func(ctx context.Context) error

// GRPCServer serves grpc.health.v1.Health. Serving status follows a periodic
// Checker probe.
type GRPCServer struct {
	component string
	check     Checker
	interval  time.Duration
	health    *health.Server

	mu         sync.Mutex
	listener   net.Listener
	grpcServer *grpc.Server
	cancel     context.CancelFunc
	probeDone  chan struct{}
}

// NewGRPCServer creates a health server. component names the process in logs.
// A nil checker always reports SERVING; a non-positive interval uses
// DefaultProbeInterval.
func NewGRPCServer(component string, check Checker, interval time.Duration) (*GRPCServer, error) {
	if component == "" {
		return nil, fmt.Errorf("component name cannot be empty")
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &GRPCServer{
		component: component,
		check:     check,
		interval:  interval,
		health:    health.NewServer(),
	}, nil
}

// Start listens on addr and serves the health service. A nil tlsConfig serves
// plaintext. The first probe completes before Start returns.
// It returns an error channel that receives the server's exit error (nil on
// graceful stop) exactly once.
func (s *GRPCServer) Start(addr string, tlsConfig *cryptotls.Config) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil, fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	var opts []grpc.ServerOption
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	grpcServer := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(grpcServer, s.health)
	s.grpcServer = grpcServer

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.probeDone = make(chan struct{})
	s.probeOnce(ctx)
	go s.probeLoop(ctx, s.probeDone)

	errCh := make(chan error, 1)
	go func() {
		err := grpcServer.Serve(listener)
		if err != nil {
			slog.Error("control gRPC server error",
				"component", s.component,
				"error", err,
			)
		}
		errCh <- err
	}()

	slog.Info("control gRPC server started", "component", s.component, "addr", listener.Addr().String())
	return errCh, nil
}

// Stop marks every service NOT_SERVING, stops the probe, and gracefully
// shuts the server down. Stop on a server that is not running is a no-op.
func (s *GRPCServer) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grpcServer == nil {
		return nil
	}

	s.cancel()
	<-s.probeDone
	s.health.Shutdown()
	s.grpcServer.GracefulStop()

	s.grpcServer = nil
	s.listener = nil
	s.cancel = nil
	s.probeDone = nil
	return nil
}

// Addr returns the listening address, or "" when not running.
func (s *GRPCServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) probeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

func (s *GRPCServer) probeOnce(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := s.check(probeCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("health probe failed", "component", s.component, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// CheckHealth dials addr and returns the serving status of service. A nil
// creds dials plaintext.
func CheckHealth(ctx context.Context, addr string, creds credentials.TransportCredentials, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

// LoadServerTLS loads the control server certificate. When caFile is non-empty
// clients must present a certificate signed by that CA.
func LoadServerTLS(certFile, keyFile, caFile string) (*cryptotls.Config, error) {
	cert, err := cryptotls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	cfg := &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS13,
	}
	if caFile == "" {
		return cfg, nil
	}

	caPool, err := loadCAPool(caFile)
	if err != nil {
		return nil, err
	}
	cfg.ClientCAs = caPool
	cfg.ClientAuth = cryptotls.RequireAndVerifyClientCert
	return cfg, nil
}

// LoadClientTLS loads TLS config for a health client. certFile and keyFile are
// optional and only needed against a server that verifies clients.
func LoadClientTLS(caFile, certFile, keyFile, serverName string) (*cryptotls.Config, error) {
	caPool, err := loadCAPool(caFile)
	if err != nil {
		return nil, err
	}
	cfg := &cryptotls.Config{
		RootCAs:    caPool,
		MinVersion: cryptotls.VersionTLS13,
		ServerName: serverName,
	}
	if certFile != "" {
		cert, err := cryptotls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []cryptotls.Certificate{cert}
	}
	return cfg, nil
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(filepath.Clean(caFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to add CA certificate to pool")
	}
	return caPool, nil
}
