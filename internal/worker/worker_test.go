package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/job"
)

func TestWorker_RunsEachInvocation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []job.Invocation{{JobID: "job-1"}, {JobID: "job-2"}}}
	runner := &fakeRunner{status: job.StatusComplete}
	w := New(1, queue, runner, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(runner.seen()) == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"job-1", "job-2"}, runner.seen())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorker_ContinuesAfterRunnerError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []job.Invocation{{JobID: "bad"}, {JobID: "good"}}}
	runner := &fakeRunner{status: job.StatusError, failFor: "bad"}
	w := New(1, queue, runner, Config{}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return len(runner.seen()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_BacksOffOnDequeueError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{err: errors.New("broker unavailable"), errCount: 2, items: []job.Invocation{{JobID: "job-1"}}}
	runner := &fakeRunner{status: job.StatusComplete}
	w := New(1, queue, runner, Config{ErrorBackoff: 5 * time.Millisecond}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return len(runner.seen()) == 1
	}, time.Second, 10*time.Millisecond)
}

type fakeQueue struct {
	mu       sync.Mutex
	items    []job.Invocation
	err      error
	errCount int
}

func (q *fakeQueue) Enqueue(_ context.Context, inv job.Invocation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, inv)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (job.Invocation, error) {
	for {
		q.mu.Lock()
		if q.errCount > 0 {
			q.errCount--
			q.mu.Unlock()
			return job.Invocation{}, q.err
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return job.Invocation{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

type fakeRunner struct {
	mu      sync.Mutex
	jobs    []string
	status  job.Status
	failFor string
}

func (r *fakeRunner) Run(_ context.Context, inv job.Invocation) (job.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, inv.JobID)
	if inv.JobID == r.failFor {
		return r.status, errors.New("terminal write failed")
	}
	return r.status, nil
}

func (r *fakeRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...)
}
