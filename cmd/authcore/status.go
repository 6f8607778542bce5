// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/credentials"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/control"
	tlscerts "github.com/holomush/authcore/internal/tls"
)

// ServiceStatus is the result of one health probe.
type ServiceStatus struct {
	Service   string `json:"service"`
	Addr      string `json:"addr"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	tlsDir     string
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	sc := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the gRPC health service of a running authcore",
		Long: `Query the control listener of a running authcore. Reports the process
health and the store-backed auth service health.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, sc)
		},
	}

	cmd.Flags().StringVar(&sc.addr, "addr", "", "control address (default: control.addr)")
	cmd.Flags().StringVar(&sc.tlsDir, "tls-dir", "", "certificates directory for mTLS (default: control.tls_dir)")
	cmd.Flags().BoolVar(&sc.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&sc.timeout, "timeout", 5*time.Second, "timeout per health check")

	return cmd
}

func runStatus(cmd *cobra.Command, sc *statusConfig) error {
	addr, tlsDir := sc.addr, sc.tlsDir
	if addr == "" || tlsDir == "" {
		ctrl := controlSettings(cmd)
		if addr == "" {
			addr = ctrl.Addr
		}
		if tlsDir == "" {
			tlsDir = ctrl.TLSDir
		}
	}
	if addr == "" {
		return fmt.Errorf("no control address: pass --addr or set control.addr")
	}

	var creds credentials.TransportCredentials
	if tlsDir != "" {
		tlsConfig, err := control.LoadClientTLS(
			filepath.Join(tlsDir, tlscerts.CACertFile),
			tlscerts.CertFile(tlsDir, operatorCertName),
			tlscerts.KeyFile(tlsDir, operatorCertName),
			"localhost",
		)
		if err != nil {
			return fmt.Errorf("failed to load operator certificate: %w", err)
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	statuses := []ServiceStatus{
		probe(cmd.Context(), addr, creds, "", sc.timeout),
		probe(cmd.Context(), addr, creds, control.ServiceName, sc.timeout),
	}

	var output string
	if sc.jsonOutput {
		var err error
		output, err = formatStatusJSON(statuses)
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
	} else {
		output = formatStatusTable(statuses)
	}
	cmd.Println(output)

	for _, s := range statuses {
		if s.Status != healthpb.HealthCheckResponse_SERVING.String() {
			return fmt.Errorf("%s is %s", displayService(s.Service), strings.ToLower(s.Status))
		}
	}
	return nil
}

// controlSettings returns the configured control listener, or the defaults
// when configuration cannot be loaded.
func controlSettings(cmd *cobra.Command) config.ControlConfig {
	cfg, err := loadConfig(cmd)
	if err != nil {
		cmd.PrintErrf("warning: using default control settings: %v\n", err)
		return config.Default().Control
	}
	return cfg.Control
}

func probe(ctx context.Context, addr string, creds credentials.TransportCredentials, service string, timeout time.Duration) ServiceStatus {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	st, err := control.CheckHealth(ctx, addr, creds, service)
	result := ServiceStatus{
		Service:   service,
		Addr:      addr,
		Status:    st.String(),
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(statuses []ServiceStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "SERVICE\tADDR\tSTATUS\tLATENCY")
	_, _ = fmt.Fprintln(w, "-------\t----\t------\t-------")

	for _, s := range statuses {
		status := s.Status
		if s.Error != "" {
			status = "unreachable"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%dms\n", displayService(s.Service), s.Addr, status, s.LatencyMS)
	}

	_ = w.Flush()
	return strings.TrimRight(string(buf), "\n")
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(statuses []ServiceStatus) (string, error) {
	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

// displayService names the overall health entry.
func displayService(service string) string {
	if service == "" {
		return "process"
	}
	return service
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
