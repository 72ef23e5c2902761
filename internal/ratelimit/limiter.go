// Package ratelimit admits or rejects requests per client identity using a
// fixed window counter kept in shared storage.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/metrics"
)

// Counter performs one atomic conditional increment. It returns the count after
// the call and whether the request was admitted.
type Counter interface {
	Hit(ctx context.Context, key string, windowStart int64, limit int, ttl time.Duration) (int, bool, error)
}

// Config controls the window.
type Config struct {
	Enabled   bool
	Requests  int
	Window    time.Duration
	Grace     time.Duration
	KeyPrefix string
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the counter failed and the request was admitted anyway.
	Degraded bool
}

// Limiter enforces N requests per window for each identity.
type Limiter struct {
	cfg     Config
	counter Counter
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs a Limiter.
func New(cfg Config, counter Counter, logger *zap.Logger) (*Limiter, error) {
	if cfg.Enabled {
		if counter == nil {
			return nil, fmt.Errorf("rate limit counter is required")
		}
		if cfg.Requests <= 0 {
			return nil, fmt.Errorf("rate_limit.requests must be > 0")
		}
		if cfg.Window < time.Second {
			return nil, fmt.Errorf("rate_limit.window_seconds must be >= 1")
		}
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "jobsai:ratelimit:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		cfg:     cfg,
		counter: counter,
		logger:  logger.Named("ratelimit"),
		now:     time.Now,
	}, nil
}

// Limit returns the configured request count per window.
func (l *Limiter) Limit() int {
	return l.cfg.Requests
}

// Enabled reports whether admission checks are applied.
func (l *Limiter) Enabled() bool {
	return l != nil && l.cfg.Enabled
}

// Allow checks one request for identity. Counter failures admit the request and
// are returned alongside the decision so callers can log them.
func (l *Limiter) Allow(ctx context.Context, identity string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	window := int64(l.cfg.Window / time.Second)
	now := l.now().Unix()
	windowStart := now - now%window
	resetAt := time.Unix(windowStart+window, 0).UTC()

	count, admitted, err := l.counter.Hit(ctx, l.cfg.KeyPrefix+identity, windowStart, l.cfg.Requests, l.cfg.Window+l.cfg.Grace)
	if err != nil {
		l.logger.Error("rate limiter unavailable, admitting request",
			zap.String("identity", identity),
			zap.Error(err),
		)
		metrics.ObserveRateLimit("degraded")
		return Decision{
			Allowed:   true,
			Limit:     l.cfg.Requests,
			Remaining: l.cfg.Requests,
			ResetAt:   resetAt,
			Degraded:  true,
		}, err
	}
	if !admitted {
		metrics.ObserveRateLimit("rejected")
		return Decision{Allowed: false, Limit: l.cfg.Requests, Remaining: 0, ResetAt: resetAt}, nil
	}
	metrics.ObserveRateLimit("allowed")
	return Decision{
		Allowed:   true,
		Limit:     l.cfg.Requests,
		Remaining: max(0, l.cfg.Requests-count),
		ResetAt:   resetAt,
	}, nil
}
