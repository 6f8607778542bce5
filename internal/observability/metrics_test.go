// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/authcore/internal/auth"
)

func TestMetrics_RecordOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOperation(auth.OpLoginWithPassword, "", 10*time.Millisecond)
	m.RecordOperation(auth.OpLoginWithPassword, auth.KindInvalidCredential, 10*time.Millisecond)
	m.RecordOperation(auth.OpLoginWithPassword, auth.KindInvalidCredential, 10*time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.OperationsTotal.WithLabelValues(auth.OpLoginWithPassword, "ok")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.OperationsTotal.WithLabelValues(auth.OpLoginWithPassword, "InvalidCredential")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationDuration))
}

func TestMetrics_RecordSweep(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSweep(auth.SweepResult{LoginTokens: 3, ResetTokens: 1}, nil)
	m.RecordSweep(auth.SweepResult{ResetTokens: 2}, errors.New("timeout"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.SweepsTotal.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SweepsTotal.WithLabelValues("error")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.SweptTokensTotal.WithLabelValues("login")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.SweptTokensTotal.WithLabelValues("reset")), 0)
}

func TestNewMetrics_PanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
