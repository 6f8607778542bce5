// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web serves the auth operations as JSON over HTTP.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Option configures the handler.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	limiter *RateLimiter
	tracing bool
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRateLimiter limits credential endpoints per client. A nil limiter
// disables limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(o *options) {
		o.limiter = rl
	}
}

// WithTracing wraps the handler in OpenTelemetry HTTP instrumentation.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracing = enabled
	}
}

// NewHandler returns the routed handler for svc.
func NewHandler(svc Service, opts ...Option) http.Handler {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	h := &handlers{svc: svc}
	limit := func(fn http.HandlerFunc) http.Handler {
		return rateLimited(o.limiter, fn)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h.ping)
	mux.Handle("POST /v1/users", limit(h.createUser))
	mux.Handle("POST /v1/login", limit(h.login))
	mux.Handle("POST /v1/password/change", limit(h.changePassword))
	mux.HandleFunc("POST /v1/logout", h.logout)
	mux.Handle("POST /v1/password/reset-token", limit(h.resetToken))
	mux.Handle("POST /v1/password/reset", limit(h.resetPassword))
	mux.HandleFunc("GET /v1/session", h.session)

	var handler http.Handler = requestLogger(o.logger)(mux)
	if o.tracing {
		handler = otelhttp.NewHandler(handler, "authcore.http",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
	return handler
}

// Server runs the HTTP API.
type Server struct {
	addr       string
	handler    http.Handler
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a server for handler on addr ("host:port").
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{addr: addr, handler: handler}
}

// Start begins serving. The returned channel receives a serve error, if any,
// and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("http server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("http server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("operation", "shutdown_http_server").Wrap(err)
	}

	slog.Info("http server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
