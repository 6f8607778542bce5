// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides a PostgreSQL implementation of auth.UserStore.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Pool is the subset of *pgxpool.Pool used by Store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConnectConfig controls pool sizing and the initial connection attempts.
type ConnectConfig struct {
	MaxConns       int32
	MinConns       int32
	ConnectRetries uint64
	RetryBase      time.Duration
	RetryCap       time.Duration
}

// DefaultConnectConfig returns the settings used when none are configured.
func DefaultConnectConfig() ConnectConfig {
	return ConnectConfig{
		MaxConns:       10,
		ConnectRetries: 5,
		RetryBase:      200 * time.Millisecond,
		RetryCap:       5 * time.Second,
	}
}

// Open connects to dsn and returns a ready Store. The first ping is retried
// with capped exponential backoff so the server can start before the database.
func Open(ctx context.Context, dsn string, cfg ConnectConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := pingWithRetry(ctx, pool, cfg); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", cfg.ConnectRetries+1).
			Wrap(err)
	}

	return NewStore(pool), nil
}

func pingWithRetry(ctx context.Context, pool Pool, cfg ConnectConfig) error {
	base := cfg.RetryBase
	if base <= 0 {
		base = DefaultConnectConfig().RetryBase
	}
	backoff := retry.NewExponential(base)
	if cfg.RetryCap > 0 {
		backoff = retry.WithCappedDuration(cfg.RetryCap, backoff)
	}
	backoff = retry.WithMaxRetries(cfg.ConnectRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
