package job

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ProgressSink receives progress updates for one job.
type ProgressSink interface {
	Report(ctx context.Context, jobID string, progress Progress) error
}

// CancelCheck answers whether cancellation has been requested for one job.
type CancelCheck interface {
	Cancelled(ctx context.Context, jobID string) bool
}

// PipelineContext carries progress reporting and cancellation checks through
// the pipeline, search and scraping layers. A nil *PipelineContext reports
// nothing and only honors context cancellation.
type PipelineContext struct {
	jobID  string
	sink   ProgressSink
	cancel CancelCheck
}

// NewPipelineContext binds a sink and a cancel check to a job.
func NewPipelineContext(jobID string, sink ProgressSink, cancel CancelCheck) *PipelineContext {
	return &PipelineContext{jobID: jobID, sink: sink, cancel: cancel}
}

// JobID returns the bound job id.
func (p *PipelineContext) JobID() string {
	if p == nil {
		return ""
	}
	return p.jobID
}

// Progress publishes a phase update.
func (p *PipelineContext) Progress(ctx context.Context, phase Phase, message string) error {
	if p == nil || p.sink == nil {
		return nil
	}
	return p.sink.Report(ctx, p.jobID, Progress{Phase: phase, Message: message})
}

// CheckCancelled returns ErrCancelled when cancellation was requested or ctx is done.
func (p *PipelineContext) CheckCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	if p == nil || p.cancel == nil {
		return nil
	}
	if p.cancel.Cancelled(ctx, p.jobID) {
		return ErrCancelled
	}
	return nil
}

// StoreSink writes progress to a StateStore.
type StoreSink struct {
	Store StateStore
}

// Report implements ProgressSink.
func (s StoreSink) Report(ctx context.Context, jobID string, progress Progress) error {
	if err := s.Store.UpdateProgress(ctx, jobID, progress); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// StoreCancelCheck reads the job status from a StateStore. A failed read is
// logged and treated as not cancelled.
type StoreCancelCheck struct {
	Store  StateStore
	Logger *zap.Logger
}

// Cancelled implements CancelCheck.
func (c StoreCancelCheck) Cancelled(ctx context.Context, jobID string) bool {
	state, err := c.Store.Get(ctx, jobID)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("cancellation check failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return false
	}
	return state.Status.CancelRequested()
}
