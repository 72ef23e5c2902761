package scraper

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Request is a single page fetch.
type Request struct {
	URL     string
	Headers http.Header
	// WaitFor names an element that marks the page as rendered. Only
	// rendering fetchers look at it.
	WaitFor string
}

// Response carries the page regardless of status code.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves one page. Non-2xx statuses come back as responses; errors
// are reserved for transport failures.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// retryable reports whether a status goes through the backoff path.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// backoff returns the jittered wait before retry number attempt (1-based).
func (e *Engine) backoff(attempt int) time.Duration {
	delay := float64(e.cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
	if delay > float64(e.cfg.BackoffMax) {
		delay = float64(e.cfg.BackoffMax)
	}
	half := time.Duration(delay / 2)
	if half <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(half)))
	if err != nil {
		return half + half/2
	}
	return half + time.Duration(n.Int64())
}

// fetchWithRetry makes up to attempts tries. 200 returns at once, 429 and 503
// back off and retry, any other status returns immediately for the caller to
// stop on. After exhausting attempts the last response is returned if one was
// received.
func (e *Engine) fetchWithRetry(
	ctx context.Context,
	fetcher Fetcher,
	board BoardConfig,
	rawURL string,
	waitFor string,
	attempts int,
) (*Response, error) {
	if attempts < 1 {
		attempts = 1
	}
	headers := make(http.Header, len(board.Headers))
	for k, v := range board.Headers {
		headers.Set(k, v)
	}

	var (
		last    *Response
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := e.throttle.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
		resp, err := fetcher.Fetch(ctx, Request{URL: rawURL, Headers: headers, WaitFor: waitFor})
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			e.logger.Warn("request failed",
				zap.String("board", board.Name),
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Error(err),
			)
		case resp.StatusCode == http.StatusOK:
			return &resp, nil
		case retryable(resp.StatusCode):
			r := resp
			last = &r
			e.logger.Warn("rate limited or unavailable, backing off",
				zap.String("board", board.Name),
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
			)
		default:
			return &resp, nil
		}
		if attempt < attempts {
			if err := e.pause(ctx, e.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
	if last != nil {
		return last, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no response")
	}
	return nil, fmt.Errorf("fetch %s after %d attempts: %w", rawURL, attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
