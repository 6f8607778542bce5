// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/authcore/internal/auth"
)

// resultOK labels successful operations and sweeps.
const resultOK = "ok"

// Metrics contains the authcore Prometheus collectors. It implements
// auth.Recorder and auth.SweepObserver.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	SweepsTotal       *prometheus.CounterVec
	SweptTokensTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers the authcore metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_operations_total",
				Help: "Total number of auth operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "authcore_operation_duration_seconds",
				Help: "Auth operation latency in seconds",
				// Password hashing dominates; buckets reach past a slow argon2 run.
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_sweeps_total",
				Help: "Total number of expired-token sweeps by result",
			},
			[]string{"result"},
		),
		SweptTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_swept_tokens_total",
				Help: "Total number of expired tokens removed by kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.OperationDuration)
	reg.MustRegister(m.SweepsTotal)
	reg.MustRegister(m.SweptTokensTotal)

	return m
}

// RecordOperation counts one facade call. An empty kind means success.
func (m *Metrics) RecordOperation(operation string, kind auth.Kind, elapsed time.Duration) {
	result := resultOK
	if kind != "" {
		result = string(kind)
	}
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordSweep counts one sweeper run and the rows it removed.
func (m *Metrics) RecordSweep(result auth.SweepResult, err error) {
	label := resultOK
	if err != nil {
		label = "error"
	}
	m.SweepsTotal.WithLabelValues(label).Inc()
	m.SweptTokensTotal.WithLabelValues("login").Add(float64(result.LoginTokens))
	m.SweptTokensTotal.WithLabelValues("reset").Add(float64(result.ResetTokens))
}

var (
	_ auth.Recorder      = (*Metrics)(nil)
	_ auth.SweepObserver = (*Metrics)(nil)
)
