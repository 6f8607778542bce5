// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/control"
	"github.com/holomush/authcore/internal/logging"
	tlscerts "github.com/holomush/authcore/internal/tls"
	"github.com/holomush/authcore/internal/web"
	"github.com/holomush/authcore/pkg/errutil"
)

// componentName identifies this process in health checks and logs.
const componentName = "authcore"

// controlCertName is the server certificate presented by the control listener.
const controlCertName = "control"

// minShutdownTimeout applies when http.shutdown_timeout is zero.
const minShutdownTimeout = time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API",
		Long: `Run the JSON HTTP API together with the metrics/health listener, the
gRPC health service and the expired-token sweeper.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	d := config.Default()
	cmd.Flags().String("store", d.Store, "user store backend (postgres or memory)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	cmd.Flags().String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", d.Log.Format, "log format (json or text)")
	cmd.Flags().String("http-addr", d.HTTP.Addr, "HTTP API listen address")
	cmd.Flags().String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("control-addr", d.Control.Addr, "gRPC health listen address (empty = disabled)")
	cmd.Flags().Duration("sweep-interval", d.Auth.SweepInterval.Std(), "expired token sweep interval (0 = disabled)")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return oops.With("operation", "load config").Wrap(err)
	}

	logger, err := logging.SetDefault(logging.Options{
		Service: componentName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return oops.With("operation", "set up logging").Wrap(err)
	}

	logger.Info("starting authcore",
		"store", cfg.Store,
		"http_addr", cfg.HTTP.Addr,
		"hash_algorithm", cfg.Auth.HashAlgorithm,
	)

	userStore, err := deps.StoreOpener(ctx, cfg)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open user store").Wrap(err)
	}
	defer userStore.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Collect stop functions so partial startup unwinds in reverse order.
	var stops []func(context.Context)
	defer func() {
		timeout := max(cfg.HTTP.ShutdownTimeout.Std(), minShutdownTimeout)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i](shutdownCtx)
		}
		slog.Info("shutdown complete")
	}()

	var (
		obsServer ObservabilityServer
		recorder  auth.Recorder
		observer  auth.SweepObserver
	)
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, userStore.Ping)
		recorder = obsServer.Metrics()
		observer = obsServer.Metrics()
	}

	facade, err := buildFacade(userStore, cfg, logger, auth.WithRecorder(recorder))
	if err != nil {
		return err
	}

	if interval := cfg.Auth.SweepInterval.Std(); interval > 0 {
		sweeper, err := auth.NewSweeper(userStore, cfg.Policy(), interval, observer, auth.WithLogger(logger))
		if err != nil {
			return oops.Code("SWEEPER_INIT_FAILED").Wrap(err)
		}
		sweeper.Start(ctx)
		stops = append(stops, func(context.Context) { sweeper.Stop() })
	} else {
		logger.Info("token sweeper disabled")
	}

	handlerOpts := []web.Option{web.WithLogger(logger), web.WithTracing(true)}
	if rl := cfg.HTTP.RateLimit; rl.RequestsPerMinute > 0 {
		limiterCfg := web.RateLimiterConfig{RequestsPerMinute: rl.RequestsPerMinute, Burst: rl.Burst}
		var limiter *web.RateLimiter
		if obsServer != nil {
			limiter = web.NewRateLimiterWithRegistry(limiterCfg, obsServer.Registry())
		} else {
			limiter = web.NewRateLimiter(limiterCfg)
		}
		stops = append(stops, func(context.Context) { limiter.Close() })
		handlerOpts = append(handlerOpts, web.WithRateLimiter(limiter))
	}

	httpServer := deps.HTTPServerFactory(cfg.HTTP.Addr, web.NewHandler(facade, handlerOpts...))
	httpErrCh, err := httpServer.Start()
	if err != nil {
		return oops.Code("HTTP_START_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	stops = append(stops, stopper("http", httpServer.Stop))
	go monitorServerErrors(ctx, cancel, httpErrCh, "http")

	if cfg.Control.Addr != "" {
		var tlsConfig *cryptotls.Config
		if cfg.Control.TLSDir != "" {
			tlsConfig, err = deps.ControlTLSLoader(cfg.Control.TLSDir)
			if err != nil {
				return oops.Code("CONTROL_TLS_FAILED").With("tls_dir", cfg.Control.TLSDir).Wrap(err)
			}
		}
		controlServer, err := deps.ControlServerFactory(componentName, userStore.Ping, cfg.Control)
		if err != nil {
			return oops.Code("CONTROL_INIT_FAILED").Wrap(err)
		}
		controlErrCh, err := controlServer.Start(cfg.Control.Addr, tlsConfig)
		if err != nil {
			return oops.Code("CONTROL_START_FAILED").With("addr", cfg.Control.Addr).Wrap(err)
		}
		stops = append(stops, stopper("control", controlServer.Stop))
		go monitorServerErrors(ctx, cancel, controlErrCh, "control-grpc")
		logger.Info("control gRPC server started", "addr", controlServer.Addr(), "mtls", tlsConfig != nil)
	}

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		stops = append(stops, stopper("observability", obsServer.Stop))
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("authcore started")
	logger.Info("authcore ready", "http_addr", httpServer.Addr())
	if deps.Ready != nil {
		close(deps.Ready)
	}

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")
	return nil
}

// buildFacade wires the auth services over userStore.
func buildFacade(userStore auth.UserStore, cfg *config.Config, logger *slog.Logger, opts ...auth.FacadeOption) (*auth.Facade, error) {
	hasher, err := cfg.Hasher()
	if err != nil {
		return nil, oops.Code("HASHER_INIT_FAILED").Wrap(err)
	}
	secrets := auth.NewRandomSecretGenerator()
	policy := cfg.Policy()
	svcOpts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithHiddenUnknownUsers(cfg.Auth.HideUnknownUsers),
	}

	sessions, err := auth.NewSessionService(userStore, hasher, secrets, policy, svcOpts...)
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").Wrap(err)
	}
	credentials, err := auth.NewCredentialService(userStore, hasher, secrets, policy, svcOpts...)
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").Wrap(err)
	}

	opts = append([]auth.FacadeOption{auth.WithFacadeLogger(logger)}, opts...)
	facade, err := auth.NewFacade(sessions, credentials, opts...)
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").Wrap(err)
	}
	return facade, nil
}

// loadControlTLS loads the control server certificate and client CA from dir.
func loadControlTLS(dir string) (*cryptotls.Config, error) {
	return control.LoadServerTLS(
		tlscerts.CertFile(dir, controlCertName),
		tlscerts.KeyFile(dir, controlCertName),
		filepath.Join(dir, tlscerts.CACertFile),
	)
}

// stopper adapts a Stop method to the shutdown list, logging failures.
func stopper(name string, stop func(context.Context) error) func(context.Context) {
	return func(ctx context.Context) {
		if err := stop(ctx); err != nil {
			slog.Warn("error stopping server", "server", name, "error", err)
		}
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			errutil.LogErrorContext(ctx, slog.Default(), "server error, triggering shutdown", err, "server", serverName)
			cancel()
		}
	case <-ctx.Done():
	}
}
