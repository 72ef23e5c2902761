// Package collyfetcher implements scraper.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jonidaniel/jobsai/internal/scraper"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 8 << 20
	acceptHTML          = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes truncates oversized pages. Zero uses 8 MiB.
	MaxBodyBytes int
}

// Fetcher issues plain HTTP GETs. Every fetch runs on a clone of one base
// collector so the transport and its connection pool are shared.
type Fetcher struct {
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	base := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	base.IgnoreRobotsTxt = !cfg.RespectRobots
	base.WithTransport(transport())
	base.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{base: base}
}

// Fetch GETs one page. HTTP error statuses come back as responses; only
// transport failures and cancellation are errors.
func (f *Fetcher) Fetch(ctx context.Context, req scraper.Request) (scraper.Response, error) {
	page := &page{headers: req.Headers, start: time.Now()}
	c := f.base.Clone()
	c.OnRequest(page.prepare)
	c.OnResponse(page.record)
	c.OnError(page.fail)

	visited := make(chan error, 1)
	go func() { visited <- c.Visit(req.URL) }()

	select {
	case <-ctx.Done():
		return scraper.Response{}, fmt.Errorf("fetch %s: %w", req.URL, ctx.Err())
	case err := <-visited:
		return page.result(err)
	}
}

// page accumulates the callbacks of a single visit.
type page struct {
	headers http.Header
	start   time.Time
	resp    *scraper.Response
	err     error
}

func (p *page) prepare(r *colly.Request) {
	if r.Headers.Get("Accept") == "" {
		r.Headers.Set("Accept", acceptHTML)
	}
	for name, values := range p.headers {
		r.Headers.Del(name)
		for _, v := range values {
			r.Headers.Add(name, v)
		}
	}
}

func (p *page) record(r *colly.Response) {
	resp := convert(r, p.start)
	p.resp = &resp
}

func (p *page) fail(r *colly.Response, err error) {
	if r != nil && r.StatusCode > 0 && r.Request != nil {
		p.record(r)
		return
	}
	p.err = err
}

func (p *page) result(visitErr error) (scraper.Response, error) {
	switch {
	case p.resp != nil:
		return *p.resp, nil
	case p.err != nil:
		return scraper.Response{}, fmt.Errorf("request failed: %w", p.err)
	case visitErr != nil:
		return scraper.Response{}, fmt.Errorf("visit failed: %w", visitErr)
	default:
		return scraper.Response{}, fmt.Errorf("no response received")
	}
}

func convert(r *colly.Response, start time.Time) scraper.Response {
	resp := scraper.Response{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    http.Header{},
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
	}
	if r.Headers != nil {
		resp.Headers = r.Headers.Clone()
	}
	return resp
}

func transport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
