// Package scraper fetches and parses job board search results using
// per-board configuration.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/job"
	"github.com/jonidaniel/jobsai/internal/metrics"
)

// EngineConfig tunes retries and pacing.
type EngineConfig struct {
	Retries       int
	DetailRetries int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	PageDelay     time.Duration
	// BlockIndicators overrides DefaultBlockIndicators when non-empty.
	BlockIndicators []string
}

// Options are the per-call scraping knobs.
type Options struct {
	NumPages     int
	DeepMode     bool
	PerPageLimit int
}

// Engine runs the page loop for one board at a time. It is safe for
// concurrent use by multiple boards.
type Engine struct {
	cfg      EngineConfig
	fetcher  Fetcher
	headless Fetcher
	throttle *HostThrottle
	detector *BlockDetector
	logger   *zap.Logger
	pause    func(context.Context, time.Duration) error
}

// NewEngine builds an Engine. headless and throttle may be nil.
func NewEngine(cfg EngineConfig, fetcher, headless Fetcher, throttle *HostThrottle, logger *zap.Logger) (*Engine, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.DetailRetries <= 0 {
		cfg.DetailRetries = 2
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = 0
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if len(cfg.BlockIndicators) == 0 {
		cfg.BlockIndicators = DefaultBlockIndicators
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		fetcher:  fetcher,
		headless: headless,
		throttle: throttle,
		detector: NewBlockDetector(cfg.BlockIndicators),
		logger:   logger.Named("scraper"),
		pause:    sleepCtx,
	}, nil
}

func (e *Engine) fetcherFor(board BoardConfig) Fetcher {
	if board.Headless && e.headless != nil {
		return e.headless
	}
	return e.fetcher
}

// Scrape collects listings for one query on one board. Page failures stop
// pagination and return what was gathered; cancellation aborts with
// job.ErrCancelled.
func (e *Engine) Scrape(
	ctx context.Context,
	pc *job.PipelineContext,
	query string,
	board BoardConfig,
	opts Options,
) ([]job.Listing, error) {
	if opts.NumPages <= 0 {
		opts.NumPages = 1
	}
	log := e.logger.With(
		zap.String("job_id", pc.JobID()),
		zap.String("board", board.Name),
		zap.String("query", query),
	)
	fetcher := e.fetcherFor(board)
	var results []job.Listing

	for page := 1; page <= opts.NumPages; page++ {
		if err := pc.CheckCancelled(ctx); err != nil {
			log.Info("scrape cancelled", zap.Int("page", page))
			return nil, err
		}
		pageURL := board.PageURL(query, page)
		log.Debug("fetching search page", zap.Int("page", page), zap.String("url", pageURL))

		resp, err := e.fetchWithRetry(ctx, fetcher, board, pageURL, board.CardSelector, e.cfg.Retries)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", job.ErrCancelled, ctx.Err())
			}
			metrics.ObserveScrapePage(board.Name, "error")
			log.Error("search page failed after retries, stopping", zap.Int("page", page), zap.Error(err))
			break
		}
		if resp.StatusCode != http.StatusOK {
			metrics.ObserveScrapePage(board.Name, "http_error")
			log.Warn("non-200 search page, stopping",
				zap.Int("page", page),
				zap.Int("status", resp.StatusCode),
				zap.String("url", pageURL),
			)
			break
		}

		blocked := e.detector.Detect(resp.Body)
		if len(blocked) > 0 {
			log.Warn("possible blocking detected",
				zap.Int("page", page),
				zap.Strings("indicators", blocked),
				zap.Int("html_length", len(resp.Body)),
			)
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			metrics.ObserveScrapePage(board.Name, "parse_error")
			log.Error("parse search page", zap.Int("page", page), zap.Error(err))
			break
		}
		cards := doc.Find(board.CardSelector)
		if cards.Length() == 0 {
			metrics.ObserveScrapePage(board.Name, "empty")
			log.Info("no job cards on page",
				zap.Int("page", page),
				zap.String("selector", board.CardSelector),
				zap.Bool("blocking_suspected", len(blocked) > 0),
			)
			break
		}
		metrics.ObserveScrapePage(board.Name, "ok")

		for i := range cards.Length() {
			listing := parseCard(cards.Eq(i), board, query)
			if listing.Title == "" || listing.Company == "" || listing.Location == "" || listing.URL == "" {
				log.Warn("job card has missing fields",
					zap.String("title", listing.Title),
					zap.String("company", listing.Company),
					zap.String("location", listing.Location),
					zap.String("url", listing.URL),
				)
			}
			if opts.DeepMode && listing.URL != "" {
				if err := pc.CheckCancelled(ctx); err != nil {
					log.Info("scrape cancelled during detail fetch", zap.Int("page", page))
					return nil, err
				}
				listing.FullDescription = e.fetchDetail(ctx, fetcher, board, listing.URL, log)
			}
			results = append(results, listing)
			metrics.ObserveListings(board.Name, 1)
			if opts.PerPageLimit > 0 && len(results) >= opts.PerPageLimit {
				log.Info("reached per_page_limit", zap.Int("limit", opts.PerPageLimit))
				return results, nil
			}
		}

		if cards.Length() < board.PaginationThreshold {
			log.Debug("short page, last page reached", zap.Int("page", page), zap.Int("cards", cards.Length()))
			break
		}
		if page < opts.NumPages {
			if err := e.pause(ctx, e.cfg.PageDelay); err != nil {
				return nil, fmt.Errorf("%w: %v", job.ErrCancelled, err)
			}
		}
	}
	log.Info("scrape finished", zap.Int("listings", len(results)))
	return results, nil
}

// fetchDetail returns the full description or "" on any failure.
func (e *Engine) fetchDetail(
	ctx context.Context,
	fetcher Fetcher,
	board BoardConfig,
	detailURL string,
	log *zap.Logger,
) string {
	resp, err := e.fetchWithRetry(ctx, fetcher, board, detailURL, "", e.cfg.DetailRetries)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn("detail fetch failed", zap.String("job_url", detailURL), zap.Error(err))
		}
		return ""
	}
	if resp.StatusCode != http.StatusOK {
		log.Debug("detail page not available", zap.String("job_url", detailURL), zap.Int("status", resp.StatusCode))
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		log.Warn("parse detail page", zap.String("job_url", detailURL), zap.Error(err))
		return ""
	}
	description := extractDescription(doc, board)
	if description == "" {
		log.Warn("no full description found",
			zap.String("job_url", detailURL),
			zap.Strings("selectors", board.DetailSelectors),
		)
	}
	return description
}
