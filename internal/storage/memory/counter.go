package memory

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start     int64
	count     int
	expiresAt time.Time
}

// Counter is a fixed-window rate limit counter. The mutex makes each Hit atomic.
type Counter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

// NewCounter constructs an empty Counter.
func NewCounter() *Counter {
	return &Counter{
		windows: make(map[string]window),
		now:     time.Now,
	}
}

// Hit admits one request for key in the window starting at windowStart.
func (c *Counter) Hit(_ context.Context, key string, windowStart int64, limit int, ttl time.Duration) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	w, ok := c.windows[key]
	if ok && !now.Before(w.expiresAt) {
		ok = false
	}
	switch {
	case !ok || w.start != windowStart:
		w = window{start: windowStart, count: 1}
	case w.count >= limit:
		return w.count, false, nil
	default:
		w.count++
	}
	w.expiresAt = now.Add(ttl)
	c.windows[key] = w
	return w.count, true, nil
}
