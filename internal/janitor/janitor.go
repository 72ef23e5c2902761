// Package janitor periodically removes expired job records and rate limit
// counters from stores that do not expire rows on their own.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepTimeout = 30 * time.Second

// Sweeper deletes expired rows and reports how many were removed.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Janitor runs every registered sweeper on a cron schedule.
type Janitor struct {
	cron     *cron.Cron
	spec     string
	sweepers map[string]Sweeper
	logger   *zap.Logger
}

// New creates a Janitor firing on spec (standard cron or "@every 10m").
func New(spec string, sweepers map[string]Sweeper, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("janitor")
	return &Janitor{
		cron:     cron.New(cron.WithLogger(cronLogger{logger.Sugar()})),
		spec:     spec,
		sweepers: sweepers,
		logger:   logger,
	}
}

// Start registers the sweep and starts the scheduler. Sweeps run with a
// context derived from ctx.
func (j *Janitor) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.spec, func() { j.Sweep(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", j.spec, err)
	}
	j.cron.Start()
	j.logger.Info("janitor started", zap.String("schedule", j.spec), zap.Int("sweepers", len(j.sweepers)))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
}

// Sweep runs every sweeper once. Failures are logged and do not stop the others.
func (j *Janitor) Sweep(ctx context.Context) {
	for name, s := range j.sweepers {
		sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
		n, err := s.DeleteExpired(sweepCtx)
		cancel()
		if err != nil {
			j.logger.Error("sweep failed", zap.String("store", name), zap.Error(err))
			continue
		}
		if n > 0 {
			j.logger.Info("expired rows removed", zap.String("store", name), zap.Int64("rows", n))
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
