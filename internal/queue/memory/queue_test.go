package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonidaniel/jobsai/internal/job"
)

func invocation(id string, boards ...string) job.Invocation {
	return job.Invocation{JobID: id, Request: job.StartRequest{JobBoards: boards}}
}

func TestQueueIsFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, invocation(id, "duunitori")))
	}
	require.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got.JobID)
		require.Equal(t, []string{"duunitori"}, got.Request.JobBoards)
	}
	require.Zero(t, q.Len())
}

func TestQueueEnqueueBlocksWhileFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), invocation("first")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, invocation("second"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorContains(t, err, "enqueue canceled")

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(context.Background(), invocation("second")) }()

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", got.JobID)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue stayed blocked after a slot freed")
	}
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorContains(t, err, "dequeue canceled")
}

func TestQueueCloseReleasesWaiters(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	waiting := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		waiting <- err
	}()

	q.Close()
	select {
	case err := <-waiting:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("dequeue not released by Close")
	}

	require.ErrorIs(t, q.Enqueue(context.Background(), invocation("late")), ErrClosed)
	require.NotPanics(t, q.Close)
}
