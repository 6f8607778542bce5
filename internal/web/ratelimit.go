// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Default rate limiting values.
const (
	// DefaultRequestsPerMinute is the sustained credential-request rate per client.
	DefaultRequestsPerMinute = 30

	// DefaultBurst is the number of requests a client may make at once before
	// the sustained rate applies.
	DefaultBurst = 10

	// DefaultCleanupInterval is how often idle client buckets are dropped.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultClientMaxAge is how long a client bucket survives without traffic.
	DefaultClientMaxAge = time.Hour
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerMinute is the sustained rate per client.
	// Defaults to DefaultRequestsPerMinute if zero or negative.
	RequestsPerMinute int

	// Burst is the bucket size per client.
	// Defaults to DefaultBurst if zero or negative.
	Burst int

	// CleanupInterval defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// ClientMaxAge defaults to DefaultClientMaxAge if zero.
	ClientMaxAge time.Duration
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client token bucket on credential endpoints.
// It is safe for concurrent use.
//
// A background goroutine drops idle clients. Call Close to stop it.
type RateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientBucket
	limit        rate.Limit
	burst        int
	clientMaxAge time.Duration
	now          func() time.Time

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	clientGauge prometheus.Gauge
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiter(cfg, nil)
}

// NewRateLimiterWithRegistry creates a rate limiter and registers a tracked
// client gauge with reg.
func NewRateLimiterWithRegistry(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	return newRateLimiter(cfg, reg)
}

func newRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	maxAge := cfg.ClientMaxAge
	if maxAge <= 0 {
		maxAge = DefaultClientMaxAge
	}

	rl := &RateLimiter{
		clients:      make(map[string]*clientBucket),
		limit:        rate.Limit(float64(perMinute) / 60.0),
		burst:        burst,
		clientMaxAge: maxAge,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}

	if reg != nil {
		rl.clientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authcore_ratelimiter_clients",
			Help: "Current number of tracked rate limiter clients",
		})
		reg.MustRegister(rl.clientGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cleanupInterval)

	return rl
}

// Allow consumes one token for key. When the bucket is empty it returns false
// and the wait until the next token.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.clients[key]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = bucket
	}
	bucket.lastSeen = now

	if bucket.limiter.AllowN(now, 1) {
		return true, 0
	}

	deficit := 1 - bucket.limiter.TokensAt(now)
	wait := time.Duration(math.Ceil(deficit / float64(rl.limit) * float64(time.Second)))
	return false, wait
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Cleanup drops clients not seen for maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxAge)
	for key, bucket := range rl.clients {
		if bucket.lastSeen.Before(threshold) {
			delete(rl.clients, key)
		}
	}

	if rl.clientGauge != nil {
		rl.clientGauge.Set(float64(len(rl.clients)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.clientMaxAge)
		}
	}
}

// Close stops the cleanup goroutine and waits for it to exit. It is safe to
// call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopChan)
	})
	rl.wg.Wait()
}
