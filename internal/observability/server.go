// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability serves Prometheus metrics and health probes for authcore.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports whether the service can serve traffic. A nil
// error means ready.
type ReadinessChecker func(ctx context.Context) error

// readinessTimeout bounds a single readiness probe.
const readinessTimeout = 2 * time.Second

// Probe response statuses.
const (
	statusOK          = "ok"
	statusUnavailable = "unavailable"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithBuildInfo exports authcore_build_info with the given version and commit.
func WithBuildInfo(version, commit string) ServerOption {
	return func(s *Server) {
		s.version, s.commit = version, commit
	}
}

// Server exposes /metrics, /healthz/liveness and /healthz/readiness.
type Server struct {
	addr     string
	registry *prometheus.Registry
	metrics  *Metrics
	isReady  ReadinessChecker
	version  string
	commit   string

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// probeResponse is the JSON body of both health probes.
type probeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewServer creates a server on its own registry holding the Go runtime,
// process and authcore collectors. The readiness checker is normally the
// user store's Ping.
func NewServer(addr string, readinessChecker ReadinessChecker, opts ...ServerOption) *Server {
	s := &Server{
		addr:     addr,
		registry: prometheus.NewRegistry(),
		isReady:  readinessChecker,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(collectors.NewGoCollector())
	s.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if s.version != "" {
		info := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "authcore_build_info",
			Help:        "Build information; the value is always 1",
			ConstLabels: prometheus.Labels{"version": s.version, "commit": s.commit},
		})
		info.Set(1)
		s.registry.MustRegister(info)
	}
	s.metrics = NewMetrics(s.registry)
	return s
}

// Metrics returns the authcore collectors for the facade and sweeper.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the registry served at /metrics so other components can
// register their collectors.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the probe and metrics routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	return mux
}

// Start listens on the configured address. The returned channel receives a
// serve error, if any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = listener
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down. Stopping a server that is not
// running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return oops.With("operation", "shutdown_observability_server").Wrap(err)
	}
	s.httpServer = nil
	s.listener = nil

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the listening address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// checkReady runs the readiness checker with a bounded deadline.
func (s *Server) checkReady(ctx context.Context) error {
	if s.isReady == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()
	return s.isReady(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, probeResponse{Status: statusOK})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.checkReady(r.Context()); err != nil {
		slog.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeProbe(w, http.StatusServiceUnavailable, probeResponse{
			Status: statusUnavailable,
			Error:  "user store unreachable",
		})
		return
	}
	writeProbe(w, http.StatusOK, probeResponse{Status: statusOK})
}

func writeProbe(w http.ResponseWriter, status int, body probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // probe clients may disconnect
	json.NewEncoder(w).Encode(body)
}
