// Package pipeline sequences the job steps, reporting progress before each
// one, honoring cooperative cancellation between them and writing exactly one
// terminal status at the end.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/job"
	"github.com/jonidaniel/jobsai/internal/metrics"
)

const terminalWriteTimeout = 10 * time.Second

// Step is one stage of the pipeline. Steps only exchange data through *Data.
type Step interface {
	Name() string
	Phase() job.Phase
	Run(ctx context.Context, pc *job.PipelineContext, data *Data) error
}

// messenger is implemented by steps that provide their own progress message.
type messenger interface {
	Message() string
}

// StepError is the uniform failure of a pipeline step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// runStep reports the step's phase, runs it and translates any failure,
// including a panic, into a *StepError. Cancellation passes through unwrapped.
func runStep(ctx context.Context, pc *job.PipelineContext, step Step, data *Data, log *zap.Logger) (err error) {
	name := step.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("step panicked", zap.String("step", name), zap.Any("panic", r), zap.Stack("stack"))
			err = &StepError{Step: name, Err: fmt.Errorf("panic: %v", r)}
		}
		metrics.ObserveStep(name, outcome(err), time.Since(start))
	}()

	message := "running " + name
	if m, ok := step.(messenger); ok {
		message = m.Message()
	}
	if perr := pc.Progress(ctx, step.Phase(), message); perr != nil {
		return &StepError{Step: name, Err: perr}
	}
	log.Info("step started", zap.String("step", name), zap.String("phase", string(step.Phase())))

	if rerr := step.Run(ctx, pc, data); rerr != nil {
		if errors.Is(rerr, job.ErrCancelled) {
			return rerr
		}
		log.Error("step failed", zap.String("step", name), zap.Error(rerr))
		return &StepError{Step: name, Err: rerr}
	}
	log.Info("step finished", zap.String("step", name), zap.Duration("duration", time.Since(start)))
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, job.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// Runner executes the fixed step sequence for one invocation.
type Runner struct {
	store    job.StateStore
	steps    []Step
	notifier job.Notifier
	logger   *zap.Logger
}

// NewRunner builds a Runner. notifier may be nil when no delivery is configured.
func NewRunner(store job.StateStore, steps []Step, notifier job.Notifier, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:    store,
		steps:    steps,
		notifier: notifier,
		logger:   logger.Named("pipeline"),
	}
}

// Run executes every step in order and writes the terminal status. The
// returned status is what was written; the error is non-nil only when the
// terminal write itself failed.
func (r *Runner) Run(ctx context.Context, inv job.Invocation) (job.Status, error) {
	log := r.logger.With(zap.String("job_id", inv.JobID))
	pc := job.NewPipelineContext(
		inv.JobID,
		job.StoreSink{Store: r.store},
		job.StoreCancelCheck{Store: r.store, Logger: log},
	)
	data := &Data{JobID: inv.JobID, Request: inv.Request}
	log.Info("pipeline started", zap.Int("steps", len(r.steps)))

	for _, step := range r.steps {
		if err := pc.CheckCancelled(ctx); err != nil {
			log.Info("cancellation observed", zap.String("before_step", step.Name()))
			return r.finish(ctx, inv.JobID, job.StatusCancelled, nil, "", log)
		}
		if err := runStep(ctx, pc, step, data, log); err != nil {
			if errors.Is(err, job.ErrCancelled) {
				log.Info("cancellation observed", zap.String("during_step", step.Name()))
				return r.finish(ctx, inv.JobID, job.StatusCancelled, nil, "", log)
			}
			return r.finish(ctx, inv.JobID, job.StatusError, nil, err.Error(), log)
		}
	}
	if err := pc.CheckCancelled(ctx); err != nil {
		log.Info("cancellation observed after the last step")
		return r.finish(ctx, inv.JobID, job.StatusCancelled, nil, "", log)
	}

	status, err := r.finish(ctx, inv.JobID, job.StatusComplete, data.Result, "", log)
	if err != nil {
		return status, err
	}
	r.deliver(ctx, inv.JobID, log)
	return status, nil
}

// finish writes the terminal status. The write survives a cancelled ctx so a
// shutdown never leaves the job running.
func (r *Runner) finish(
	ctx context.Context,
	jobID string,
	status job.Status,
	result map[string]any,
	errMsg string,
	log *zap.Logger,
) (job.Status, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	metrics.ObserveJob(string(status))
	if err := r.store.UpdateTerminal(writeCtx, jobID, status, result, errMsg); err != nil {
		log.Error("terminal status write failed", zap.String("status", string(status)), zap.Error(err))
		return status, fmt.Errorf("write terminal status %s: %w", status, err)
	}
	log.Info("pipeline finished", zap.String("status", string(status)), zap.String("error", errMsg))
	return status, nil
}

// deliver runs the delivery side effect. Failures never change the status.
func (r *Runner) deliver(ctx context.Context, jobID string, log *zap.Logger) {
	if r.notifier == nil {
		return
	}
	state, err := r.store.Get(ctx, jobID)
	if err != nil {
		metrics.ObserveDeliveryFailure()
		log.Error("read state for delivery", zap.Error(err))
		return
	}
	if state.DeliveryMethod != job.DeliveryEmail {
		return
	}
	if err := r.notifier.Deliver(ctx, state); err != nil {
		metrics.ObserveDeliveryFailure()
		log.Error("delivery failed", zap.String("target", state.DeliveryTarget), zap.Error(err))
		return
	}
	log.Info("delivery sent", zap.String("target", state.DeliveryTarget))
}
