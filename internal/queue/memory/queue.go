// Package memory provides an in-process invocation queue for running the API
// and workers in one binary.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonidaniel/jobsai/internal/job"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch        chan job.Invocation
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue holding up to capacity pending invocations.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan job.Invocation, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes an invocation, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, inv job.Invocation) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- inv:
		return nil
	}
}

// Dequeue pops the next invocation, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (job.Invocation, error) {
	select {
	case <-ctx.Done():
		return job.Invocation{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return job.Invocation{}, ErrClosed
	case inv := <-q.ch:
		return inv, nil
	}
}

// Len reports the number of pending invocations.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Pending invocations are dropped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
