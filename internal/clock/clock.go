// Package clock supplies job.Clock implementations.
package clock

import (
	"sync"
	"time"
)

// System reads the wall clock in UTC, truncated to microseconds so that
// timestamps survive a round trip through Postgres timestamptz unchanged.
type System struct{}

// Now implements job.Clock.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual starts a Manual clock at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now implements job.Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set jumps to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
