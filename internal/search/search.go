// Package search runs the scraper across boards and queries and merges the
// results into one deduplicated list.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonidaniel/jobsai/internal/job"
	"github.com/jonidaniel/jobsai/internal/scraper"
)

// ErrAllFailed is returned when every board task of every query failed.
var ErrAllFailed = errors.New("every board scrape failed")

// Scraper is the per-board engine the orchestrator drives.
type Scraper interface {
	Scrape(ctx context.Context, pc *job.PipelineContext, query string, board scraper.BoardConfig, opts scraper.Options) ([]job.Listing, error)
}

// Orchestrator fans out one query at a time across boards.
type Orchestrator struct {
	scraper Scraper
	logger  *zap.Logger
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(s Scraper, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{scraper: s, logger: logger.Named("search")}
}

// Search scrapes boards × queries. Queries run sequentially; boards of one
// query run in parallel. A failing board yields an empty result for that
// board. Cancellation observed anywhere aborts the whole call with
// job.ErrCancelled and no partial data.
func (o *Orchestrator) Search(
	ctx context.Context,
	pc *job.PipelineContext,
	queries []string,
	boards []scraper.BoardConfig,
	opts scraper.Options,
) ([]job.Listing, error) {
	if len(boards) == 0 || len(queries) == 0 {
		return nil, nil
	}
	var (
		all      []job.Listing
		tasks    int
		failures int
	)
	for _, query := range queries {
		query = strings.TrimSpace(query)
		if query == "" {
			continue
		}
		if err := pc.CheckCancelled(ctx); err != nil {
			return nil, err
		}

		perBoard, failed, err := o.fanOut(ctx, pc, query, boards, opts)
		if err != nil {
			return nil, err
		}
		tasks += len(boards)
		failures += failed
		for _, listings := range perBoard {
			all = append(all, listings...)
		}

		if err := pc.CheckCancelled(ctx); err != nil {
			return nil, err
		}
	}
	if tasks > 0 && failures == tasks {
		return nil, ErrAllFailed
	}
	deduped := Dedupe(all)
	o.logger.Info("search finished",
		zap.String("job_id", pc.JobID()),
		zap.Int("queries", len(queries)),
		zap.Int("boards", len(boards)),
		zap.Int("raw", len(all)),
		zap.Int("unique", len(deduped)),
	)
	return deduped, nil
}

// fanOut scrapes one query on every board. Results keep board order.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	pc *job.PipelineContext,
	query string,
	boards []scraper.BoardConfig,
	opts scraper.Options,
) ([][]job.Listing, int, error) {
	results := make([][]job.Listing, len(boards))
	failed := make([]bool, len(boards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(boards))
	for i, board := range boards {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("board scrape panicked",
						zap.String("board", board.Name),
						zap.String("query", query),
						zap.Any("panic", r),
					)
					failed[i] = true
					err = nil
				}
			}()
			listings, scrapeErr := o.scraper.Scrape(gctx, pc, query, board, opts)
			if scrapeErr != nil {
				if errors.Is(scrapeErr, job.ErrCancelled) {
					return scrapeErr
				}
				o.logger.Error("board scrape failed",
					zap.String("job_id", pc.JobID()),
					zap.String("board", board.Name),
					zap.String("query", query),
					zap.Error(scrapeErr),
				)
				failed[i] = true
				return nil
			}
			results[i] = listings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, job.ErrCancelled) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("search %q: %w", query, err)
	}

	var n int
	for _, f := range failed {
		if f {
			n++
		}
	}
	return results, n, nil
}

// Dedupe keeps the first listing for each URL and drops listings without one.
func Dedupe(listings []job.Listing) []job.Listing {
	seen := make(map[string]struct{}, len(listings))
	out := make([]job.Listing, 0, len(listings))
	for _, l := range listings {
		key := strings.TrimSpace(l.URL)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}
