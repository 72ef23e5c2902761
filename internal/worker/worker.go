// Package worker implements the pipeline execution loop fed by the
// invocation queue.
package worker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/job"
	"github.com/jonidaniel/jobsai/internal/metrics"
)

const defaultErrorBackoff = 500 * time.Millisecond

// Runner executes one pipeline.
type Runner interface {
	Run(ctx context.Context, inv job.Invocation) (job.Status, error)
}

// Config controls Worker behavior.
type Config struct {
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// Worker consumes invocations and runs one pipeline at a time.
type Worker struct {
	id     int
	queue  job.Queue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue job.Queue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming invocations until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		inv, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued invocation", zap.String("job_id", inv.JobID))
		w.process(ctx, inv)
	}
}

func (w *Worker) process(ctx context.Context, inv job.Invocation) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if len(inv.Trace) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(inv.Trace))
	}
	ctx, span := otel.Tracer("jobsai/worker").Start(ctx, "pipeline.run", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("job.id", inv.JobID), attribute.Int("worker.id", w.id))
	defer span.End()

	start := time.Now()
	status, err := w.runner.Run(ctx, inv)
	span.SetAttributes(attribute.String("job.status", string(status)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		w.logger.Error("pipeline run failed",
			zap.String("job_id", inv.JobID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("pipeline run finished",
		zap.String("job_id", inv.JobID),
		zap.String("status", string(status)),
		zap.Duration("elapsed", time.Since(start)),
	)
}
