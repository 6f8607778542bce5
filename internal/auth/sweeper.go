// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired tokens are purged store-wide.
const DefaultSweepInterval = time.Hour

// SweepResult counts rows removed by one sweep.
type SweepResult struct {
	LoginTokens int64
	ResetTokens int64
}

// SweepObserver is notified after each sweep.
type SweepObserver interface {
	RecordSweep(result SweepResult, err error)
}

// Sweeper periodically deletes expired login and reset tokens. Lookups prune
// lazily too; the sweeper bounds growth for users who never come back.
type Sweeper struct {
	store    UserStore
	policy   Policy
	interval time.Duration
	observer SweepObserver
	opts     options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper. A non-positive interval uses DefaultSweepInterval.
func NewSweeper(store UserStore, policy Policy, interval time.Duration, observer SweepObserver, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		policy:   policy.withDefaults(),
		interval: interval,
		observer: observer,
		opts:     applyOptions(opts),
	}, nil
}

// Start launches the background loop. It runs one sweep immediately. Calling
// Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)
	s.opts.logger.Info("token sweeper started", slog.Duration("interval", s.interval))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.opts.logger.Info("token sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	result, err := s.RunOnce(ctx)
	if s.observer != nil {
		s.observer.RecordSweep(result, err)
	}
}

// RunOnce performs a single sweep. Both deletions are attempted even when the
// first fails; the first error is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	now := s.opts.now()
	var (
		result   SweepResult
		firstErr error
	)

	n, err := s.store.DeleteExpiredLoginTokens(ctx, now.Add(-s.policy.SessionLifetime))
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to delete expired login tokens", slog.Any("error", err))
		firstErr = storeUnavailable("delete expired login tokens", err)
	} else {
		result.LoginTokens = n
	}

	n, err = s.store.DeleteExpiredResetTokens(ctx, now.Add(-s.policy.ResetTokenLifetime))
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "failed to delete expired reset tokens", slog.Any("error", err))
		if firstErr == nil {
			firstErr = storeUnavailable("delete expired reset tokens", err)
		}
	} else {
		result.ResetTokens = n
	}

	s.opts.logger.DebugContext(ctx, "token sweep completed",
		slog.Int64("login_tokens", result.LoginTokens),
		slog.Int64("reset_tokens", result.ResetTokens))
	return result, firstErr
}
