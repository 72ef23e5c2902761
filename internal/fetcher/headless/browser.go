// Package headless renders job board pages in headless Chrome for boards
// whose listings are injected client-side.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jonidaniel/jobsai/internal/scraper"
)

const (
	defaultPageTimeout     = 45 * time.Second
	defaultSelectorTimeout = 10 * time.Second
	fallbackSelector       = "body"
)

// ErrDisabled is returned by Disabled for every fetch.
var ErrDisabled = errors.New("headless rendering disabled")

// Config controls the browser fetcher.
type Config struct {
	// Tabs caps concurrently open pages. Zero means unbounded.
	Tabs        int
	UserAgent   string
	PageTimeout time.Duration
	// SelectorTimeout bounds the wait for a request's WaitFor element. A board
	// with no results never renders cards, so running out is not an error.
	SelectorTimeout time.Duration
	// SettleDelay follows every navigation and scroll.
	SettleDelay time.Duration
	// ScrollPasses scrolls to the bottom this many times for boards that
	// load more cards on scroll.
	ScrollPasses int
	// WaitSelector is used when a request names none.
	WaitSelector string
}

func (c Config) withDefaults() Config {
	if c.PageTimeout <= 0 {
		c.PageTimeout = defaultPageTimeout
	}
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = defaultSelectorTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.ScrollPasses < 0 {
		c.ScrollPasses = 0
	}
	if strings.TrimSpace(c.WaitSelector) == "" {
		c.WaitSelector = fallbackSelector
	}
	return c
}

// Browser implements scraper.Fetcher on a shared Chrome process. Each fetch
// gets its own tab.
type Browser struct {
	cfg   Config
	tabs  chan struct{}
	root  context.Context
	close context.CancelFunc
}

// New starts the allocator. Chrome itself launches lazily on the first fetch.
func New(cfg Config) (*Browser, error) {
	if cfg.Tabs < 0 {
		return nil, fmt.Errorf("tabs must be >= 0, got %d", cfg.Tabs)
	}
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	root, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	b := &Browser{cfg: cfg, root: root, close: cancel}
	if cfg.Tabs > 0 {
		b.tabs = make(chan struct{}, cfg.Tabs)
	}
	return b, nil
}

// Close shuts down Chrome.
func (b *Browser) Close() {
	b.close()
}

// Fetch opens the page in a fresh tab and returns the rendered DOM along with
// the status and headers of the main document.
func (b *Browser) Fetch(ctx context.Context, req scraper.Request) (scraper.Response, error) {
	if err := b.openTab(ctx); err != nil {
		return scraper.Response{}, err
	}
	defer b.closeTab()

	tab, cancelTab := chromedp.NewContext(b.root)
	defer cancelTab()
	tab, cancelTimeout := context.WithTimeout(tab, b.cfg.PageTimeout)
	defer cancelTimeout()
	// Follow the caller's cancellation without tying the tab to its values.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	doc := &documentRecorder{}
	chromedp.ListenTarget(tab, doc.observe)

	var (
		html     string
		location string
	)
	started := time.Now()
	err := chromedp.Run(tab,
		b.prepare(req.Headers),
		chromedp.Navigate(req.URL),
		b.awaitRender(req.WaitFor),
		chromedp.Sleep(b.cfg.SettleDelay),
		b.scroll(),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return scraper.Response{}, ctxErr
		}
		return scraper.Response{}, fmt.Errorf("render %s: %w", req.URL, err)
	}

	resp := doc.response(req.URL, location)
	resp.Body = []byte(html)
	resp.Duration = time.Since(started)
	return resp, nil
}

func (b *Browser) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
		}
		if extra := extraHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set headers: %w", err)
			}
		}
		return nil
	})
}

// awaitRender waits for the selector but gives up quietly after
// SelectorTimeout so empty result pages are still captured.
func (b *Browser) awaitRender(selector string) chromedp.Action {
	if strings.TrimSpace(selector) == "" {
		selector = b.cfg.WaitSelector
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, b.cfg.SelectorTimeout)
		defer cancel()
		err := chromedp.WaitReady(selector, chromedp.ByQuery).Do(waitCtx)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil
		}
		return err
	})
}

// scroll stops early once the page height stops growing.
func (b *Browser) scroll() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var last float64
		for i := 0; i < b.cfg.ScrollPasses; i++ {
			var height float64
			script := `window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight`
			if err := chromedp.Evaluate(script, &height).Do(ctx); err != nil {
				return fmt.Errorf("scroll pass %d: %w", i+1, err)
			}
			if i > 0 && height <= last {
				return nil
			}
			last = height
			if err := chromedp.Sleep(b.cfg.SettleDelay).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Browser) openTab(ctx context.Context) error {
	if b.tabs == nil {
		return nil
	}
	select {
	case b.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for a browser tab: %w", ctx.Err())
	}
}

func (b *Browser) closeTab() {
	if b.tabs != nil {
		<-b.tabs
	}
}

// documentRecorder keeps the first document response of the tab. Frames
// loaded later are documents too and must not overwrite it.
type documentRecorder struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *documentRecorder) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(e.Response.Status)
	d.url = e.Response.URL
	d.headers = headerValues(e.Response.Headers)
}

// response falls back to the navigated location and a 200 when Chrome
// reported no document, which happens for pages served from cache.
func (d *documentRecorder) response(requested, location string) scraper.Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := scraper.Response{
		URL:        d.url,
		StatusCode: d.status,
		Headers:    d.headers.Clone(),
	}
	if resp.URL == "" {
		resp.URL = location
	}
	if resp.URL == "" {
		resp.URL = requested
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp
}

// headerValues converts CDP headers. Chrome folds repeated headers into one
// newline separated string.
func headerValues(src network.Headers) http.Header {
	dst := make(http.Header, len(src))
	for name, raw := range src {
		var values []string
		switch v := raw.(type) {
		case string:
			values = strings.Split(v, "\n")
		case []any:
			for _, item := range v {
				values = append(values, fmt.Sprint(item))
			}
		default:
			values = []string{fmt.Sprint(v)}
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
	return dst
}

func extraHeaders(src http.Header) network.Headers {
	dst := network.Headers{}
	for name, values := range src {
		if len(values) == 0 {
			continue
		}
		dst[name] = strings.Join(values, ", ")
	}
	return dst
}

// Disabled stands in when headless rendering is off. Boards that need a
// browser fail loudly instead of scraping an empty shell page.
type Disabled struct{}

// Fetch always fails with ErrDisabled.
func (Disabled) Fetch(_ context.Context, req scraper.Request) (scraper.Response, error) {
	return scraper.Response{}, fmt.Errorf("%s: %w", req.URL, ErrDisabled)
}
