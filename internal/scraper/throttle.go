package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonidaniel/jobsai/internal/metrics"
)

// HostThrottle spaces out requests per host. A nil throttle never waits.
type HostThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewHostThrottle creates a throttle allowing rps requests per second per host.
// A non-positive rps disables throttling.
func NewHostThrottle(rps float64, burst int) *HostThrottle {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &HostThrottle{
		limiters: make(map[string]*rate.Limiter),
		rps:      limit,
		burst:    burst,
	}
}

// Wait blocks until the host of rawURL may be contacted again.
func (t *HostThrottle) Wait(ctx context.Context, rawURL string) error {
	if t == nil {
		return nil
	}
	host := metrics.SanitizeSite(rawURL)
	t.mu.Lock()
	limiter, ok := t.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(t.rps, t.burst)
		t.limiters[host] = limiter
	}
	t.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host throttle wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveThrottleDelay(host, waited)
	}
	return nil
}
