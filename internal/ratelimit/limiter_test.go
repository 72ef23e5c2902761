package ratelimit

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/storage/memory"
)

func newLimiter(t *testing.T, counter Counter, now *time.Time) *Limiter {
	t.Helper()
	l, err := New(Config{Enabled: true, Requests: 5, Window: time.Minute, Grace: 5 * time.Minute}, counter, zap.NewNop())
	require.NoError(t, err)
	l.now = func() time.Time { return *now }
	return l
}

func TestAllowWindowBoundary(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_010, 0)
	l := newLimiter(t, memory.NewCounter(), &now)
	ctx := context.Background()
	windowStart := now.Unix() - now.Unix()%60
	wantReset := time.Unix(windowStart+60, 0).UTC()

	for _, want := range []int{4, 3, 2, 1, 0} {
		d, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, want, d.Remaining)
		require.Equal(t, wantReset, d.ResetAt)
		require.Equal(t, 5, d.Limit)
	}

	d, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.Equal(t, wantReset, d.ResetAt)

	other, err := l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	require.True(t, other.Allowed, "identities are counted separately")

	now = wantReset
	d, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 4, d.Remaining)
}

func TestAllowConcurrentAdmissions(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := newLimiter(t, memory.NewCounter(), &now)
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(context.Background(), "burst")
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 5, admitted.Load())
}

type failingCounter struct{}

func (failingCounter) Hit(context.Context, string, int64, int, time.Duration) (int, bool, error) {
	return 0, false, errors.New("store unreachable")
}

func TestAllowFailsOpen(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := newLimiter(t, failingCounter{}, &now)
	d, err := l.Allow(context.Background(), "1.2.3.4")
	require.Error(t, err)
	require.True(t, d.Allowed)
	require.True(t, d.Degraded)
}

func TestDisabledLimiter(t *testing.T) {
	t.Parallel()

	l, err := New(Config{}, nil, nil)
	require.NoError(t, err)
	d, err := l.Allow(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	_, err = New(Config{Enabled: true, Requests: 0, Window: time.Minute}, memory.NewCounter(), nil)
	require.Error(t, err)
}

func TestClientIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": " 10.0.0.1 , 10.0.0.2"}, want: "10.0.0.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "10.0.0.3"}, want: "10.0.0.3"},
		{name: "remote addr", remote: "192.168.1.9:5555", want: "192.168.1.9"},
		{name: "unknown", remote: "", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest("POST", "/api/start", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, ClientIdentity(req))
		})
	}
}
