package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonidaniel/jobsai/internal/job"
)

func TestStateStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStateStore(time.Hour)
	ctx := context.Background()
	state := job.State{JobID: "job-1", Status: job.StatusRunning}

	require.NoError(t, store.Create(ctx, state))
	require.ErrorIs(t, store.Create(ctx, state), job.ErrAlreadyExists)

	require.NoError(t, store.UpdateProgress(ctx, "job-1", job.Progress{Phase: job.PhaseProfiling, Message: "a"}))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", job.Progress{Phase: job.PhaseSearching, Message: "b"}))
	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, job.PhaseSearching, got.Progress.Phase)

	got.Progress.Message = "mutated"
	again, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "b", again.Progress.Message, "Get must return a copy")

	require.NoError(t, store.UpdateTerminal(ctx, "job-1", job.StatusComplete, map[string]any{"count": 1}, ""))
	require.NoError(t, store.UpdateTerminal(ctx, "job-1", job.StatusComplete, map[string]any{"count": 1}, ""))
	require.Error(t, store.UpdateTerminal(ctx, "job-1", job.StatusRunning, nil, ""))

	require.NoError(t, store.RequestCancellation(ctx, "job-1"))
	final, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, job.StatusComplete, final.Status, "cancel on a terminal job is a no-op")

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, job.ErrNotFound)
	require.ErrorIs(t, store.RequestCancellation(ctx, "missing"), job.ErrNotFound)
}

func TestStateStoreRefreshesExpiry(t *testing.T) {
	t.Parallel()

	store := NewStateStore(time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, job.State{JobID: "j", Status: job.StatusRunning}))

	now = now.Add(50 * time.Minute)
	require.NoError(t, store.RequestCancellation(ctx, "j"))
	now = now.Add(50 * time.Minute)
	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, job.StatusCancelling, got.Status)

	now = now.Add(time.Hour)
	_, err = store.Get(ctx, "j")
	require.ErrorIs(t, err, job.ErrNotFound)
	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestCounterWindowBoundary(t *testing.T) {
	t.Parallel()

	counter := NewCounter()
	ctx := context.Background()
	for want := 1; want <= 5; want++ {
		count, ok, err := counter.Hit(ctx, "ip", 60, 5, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, count)
	}
	count, ok, err := counter.Hit(ctx, "ip", 60, 5, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 5, count)

	count, ok, err = counter.Hit(ctx, "ip", 120, 5, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, count)
}

func TestCounterConcurrentAdmissions(t *testing.T) {
	t.Parallel()

	counter := NewCounter()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := counter.Hit(context.Background(), "ip", 0, 5, time.Minute)
			if err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 5, admitted.Load())
}

func TestArtifactStore(t *testing.T) {
	t.Parallel()

	store := NewArtifactStore()
	ctx := context.Background()
	key, err := store.Put(ctx, "documents/j/a.pdf", "application/pdf", []byte("pdf"))
	require.NoError(t, err)
	require.Equal(t, "documents/j/a.pdf", key)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("pdf"), data)

	url, err := store.Presign(ctx, key, time.Hour)
	require.NoError(t, err)
	require.Equal(t, "memory://documents/j/a.pdf", url)

	_, err = store.Presign(ctx, "missing", time.Hour)
	require.ErrorIs(t, err, job.ErrNotFound)
	_, err = store.Put(ctx, " ", "", nil)
	require.Error(t, err)
}
