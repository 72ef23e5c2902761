// Package dispatcher is the invocation boundary: the API hands invocations to
// it and it fans them out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonidaniel/jobsai/internal/job"
	"github.com/jonidaniel/jobsai/internal/worker"
)

// receiver is implemented by queues that must pull from a broker.
type receiver interface {
	Run(ctx context.Context) error
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   job.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher. workers may be empty for API-only processes.
func New(queue job.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts the workers, plus the queue's receive loop when it has one, and
// blocks until ctx is done and all of them have returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var g errgroup.Group
	if r, ok := d.queue.(receiver); ok && len(d.workers) > 0 {
		g.Go(func() error {
			err := r.Run(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.Error("queue receive loop stopped", zap.Error(err))
			}
			return nil
		})
	}
	for _, w := range d.workers {
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	<-ctx.Done()
	_ = g.Wait()
	d.logger.Info("dispatcher stopped")
}

// Invoke enqueues the invocation and returns without waiting for the
// pipeline. The span it opens becomes the parent of the worker's pipeline
// span when the queue carries trace context.
func (d *Dispatcher) Invoke(ctx context.Context, inv job.Invocation) error {
	ctx, span := otel.Tracer("jobsai/dispatcher").Start(ctx, "pipeline.invoke",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("job.id", inv.JobID),
			attribute.StringSlice("job.boards", inv.Request.JobBoards),
		),
	)
	defer span.End()

	inv.Trace = map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(inv.Trace))
	if err := d.queue.Enqueue(ctx, inv); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
