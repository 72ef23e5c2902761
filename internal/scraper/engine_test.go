package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/job"
)

type scripted struct {
	status int
	body   string
	err    error
}

// fakeFetcher replays scripted results per URL; the last entry repeats.
type fakeFetcher struct {
	mu     sync.Mutex
	script map[string][]scripted
	calls  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{script: make(map[string][]scripted)}
}

func (f *fakeFetcher) on(url string, results ...scripted) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[url] = append(f.script[url], results...)
}

func (f *fakeFetcher) Fetch(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	results, ok := f.script[req.URL]
	if !ok || len(results) == 0 {
		return Response{URL: req.URL, StatusCode: 404}, nil
	}
	next := results[0]
	if len(results) > 1 {
		f.script[req.URL] = results[1:]
	}
	if next.err != nil {
		return Response{}, next.err
	}
	return Response{URL: req.URL, StatusCode: next.status, Body: []byte(next.body)}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

func testBoard() BoardConfig {
	return BoardConfig{
		Name:                  "testboard",
		HostURL:               "https://board.test",
		SearchURLTemplate:     "https://board.test/search?q={query}&p={page}",
		QueryEncoding:         EncodingPlus,
		CardSelector:          ".card",
		PaginationThreshold:   2,
		TitleSelector:         ".title",
		CompanySelector:       ".company",
		LocationSelector:      ".loc",
		URLSelector:           ".title",
		PublishedDateSelector: ".date",
		DetailSelectors:       []string{".desc", ".body"},
		FallbackLargestBlock:  true,
	}
}

func cardsPage(from, n int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := from; i < from+n; i++ {
		fmt.Fprintf(&b, `<div class="card"><a class="title" href="/jobs/%d">Developer %d</a>`+
			`<span class="company" data-company="Acme %d">ignored</span>`+
			`<span class="loc"> Helsinki </span><time class="date" datetime="2025-01-0%d">today</time></div>`,
			i, i, i, i%9+1)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestEngine(t *testing.T, f Fetcher) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{Retries: 3, DetailRetries: 2}, f, nil, nil, zap.NewNop())
	require.NoError(t, err)
	e.pause = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e
}

type staticCancel bool

func (s staticCancel) Cancelled(context.Context, string) bool { return bool(s) }

func TestScrapeHappyPath(t *testing.T) {
	t.Parallel()

	board := testBoard()
	f := newFakeFetcher()
	f.on(board.PageURL("python developer", 1), scripted{status: 200, body: cardsPage(1, 3)})
	f.on(board.PageURL("python developer", 2), scripted{status: 200, body: "<html><body></body></html>"})

	listings, err := newTestEngine(t, f).Scrape(context.Background(), nil, "python developer", board, Options{NumPages: 5})
	require.NoError(t, err)
	require.Len(t, listings, 3)
	require.Equal(t, 1, f.callCount(board.PageURL("python developer", 2)))
	require.Zero(t, f.callCount(board.PageURL("python developer", 3)))

	first := listings[0]
	require.Equal(t, "Developer 1", first.Title)
	require.Equal(t, "Acme 1", first.Company, "data-company wins over text")
	require.Equal(t, "Helsinki", first.Location)
	require.Equal(t, "https://board.test/jobs/1", first.URL)
	require.Equal(t, "2025-01-02", first.PublishedDate)
	require.Equal(t, "python developer", first.QueryUsed)
	require.Equal(t, "testboard", first.Source)
	require.Empty(t, first.FullDescription)
}

func TestScrapeStopsOnShortPage(t *testing.T) {
	t.Parallel()

	board := testBoard()
	board.PaginationThreshold = 20
	f := newFakeFetcher()
	f.on(board.PageURL("go", 1), scripted{status: 200, body: cardsPage(1, 15)})
	f.on(board.PageURL("go", 2), scripted{status: 200, body: cardsPage(100, 20)})

	listings, err := newTestEngine(t, f).Scrape(context.Background(), nil, "go", board, Options{NumPages: 3})
	require.NoError(t, err)
	require.Len(t, listings, 15)
	require.Zero(t, f.callCount(board.PageURL("go", 2)))
}

func TestScrapeStopsOnEmptyFirstPage(t *testing.T) {
	t.Parallel()

	board := testBoard()
	f := newFakeFetcher()
	f.on(board.PageURL("go", 1), scripted{status: 200, body: "<html></html>"})

	listings, err := newTestEngine(t, f).Scrape(context.Background(), nil, "go", board, Options{NumPages: 3})
	require.NoError(t, err)
	require.Empty(t, listings)
	require.Zero(t, f.callCount(board.PageURL("go", 2)))
}

func TestScrapeRetriesRateLimitedPage(t *testing.T) {
	t.Parallel()

	board := testBoard()
	board.PaginationThreshold = 0
	f := newFakeFetcher()
	page1 := board.PageURL("go", 1)
	f.on(page1,
		scripted{status: 429},
		scripted{err: errors.New("connection reset")},
		scripted{status: 200, body: cardsPage(1, 2)},
	)

	listings, err := newTestEngine(t, f).Scrape(context.Background(), nil, "go", board, Options{NumPages: 1})
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, 3, f.callCount(page1))
}

func TestScrapePermanentStatusIsNotRetried(t *testing.T) {
	t.Parallel()

	board := testBoard()
	f := newFakeFetcher()
	page1 := board.PageURL("go", 1)
	f.on(page1, scripted{status: 403, body: "Access denied"})

	listings, err := newTestEngine(t, f).Scrape(context.Background(), nil, "go", board, Options{NumPages: 3})
	require.NoError(t, err)
	require.Empty(t, listings)
	require.Equal(t, 1, f.callCount(page1))
}

func TestScrapeReturnsPartialResultsWhenLaterPageFails(t *testing.T) {
	t.Parallel()

	board := testBoard()
	f := newFakeFetcher()
	f.on(board.PageURL("go", 1), scripted{status: 200, body: cardsPage(1, 2)})
	f.on(board.PageURL("go", 2), scripted{status: 503})

	listings, err := newTestEngine(t, f).Scrape(context.Background(), nil, "go", board, Options{NumPages: 3})
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, 3, f.callCount(board.PageURL("go", 2)), "503 is retried until attempts run out")
}

func TestScrapeDeepModeDetailFailureKeepsListing(t *testing.T) {
	t.Parallel()

	board := testBoard()
	board.PaginationThreshold = 0
	f := newFakeFetcher()
	f.on(board.PageURL("go", 1), scripted{status: 200, body: cardsPage(1, 3)})
	f.on("https://board.test/jobs/1", scripted{status: 200, body: `<div class="body">Second choice</div><div class="desc"> Full   text </div>`})
	f.on("https://board.test/jobs/2", scripted{err: errors.New("boom")})
	f.on("https://board.test/jobs/3", scripted{status: 200, body: `<main><p>Short.</p></main><article><p>We build things.</p><p>Join us.</p></article>`})

	listings, err := newTestEngine(t, f).Scrape(context.Background(), nil, "go", board, Options{NumPages: 1, DeepMode: true})
	require.NoError(t, err)
	require.Len(t, listings, 3)
	require.Equal(t, "Full text", listings[0].FullDescription, "selectors are tried in priority order")
	require.Empty(t, listings[1].FullDescription)
	require.Equal(t, 2, f.callCount("https://board.test/jobs/2"))
	require.Equal(t, "We build things. Join us.", listings[2].FullDescription, "largest block fallback")
}

func TestScrapePerPageLimit(t *testing.T) {
	t.Parallel()

	board := testBoard()
	f := newFakeFetcher()
	f.on(board.PageURL("go", 1), scripted{status: 200, body: cardsPage(1, 5)})

	listings, err := newTestEngine(t, f).Scrape(context.Background(), nil, "go", board, Options{NumPages: 3, PerPageLimit: 4})
	require.NoError(t, err)
	require.Len(t, listings, 4)
	require.Zero(t, f.callCount(board.PageURL("go", 2)))
}

func TestScrapeCancellation(t *testing.T) {
	t.Parallel()

	board := testBoard()
	f := newFakeFetcher()
	pc := job.NewPipelineContext("job-1", nil, staticCancel(true))

	_, err := newTestEngine(t, f).Scrape(context.Background(), pc, "go", board, Options{NumPages: 3})
	require.ErrorIs(t, err, job.ErrCancelled)
	require.Empty(t, f.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newTestEngine(t, f).Scrape(ctx, nil, "go", board, Options{NumPages: 3})
	require.ErrorIs(t, err, job.ErrCancelled)
}

func TestCardURLFallbacks(t *testing.T) {
	t.Parallel()

	board := testBoard()
	board.URLSelector = ".missing"
	board.PaginationThreshold = 0
	f := newFakeFetcher()
	f.on(board.PageURL("go", 1), scripted{status: 200, body: `<div class="card">
		<h2 class="title">Plain title</h2><a href="/about">About</a><a href="/job/77?ref=x">Open</a>
		<span class="company">Text Co</span></div>
		<div class="card"><a class="title" href="https://other.test/posting">Linked title</a></div>`})

	listings, err := newTestEngine(t, f).Scrape(context.Background(), nil, "go", board, Options{NumPages: 1})
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, "https://board.test/job/77?ref=x", listings[0].URL)
	require.Equal(t, "Text Co", listings[0].Company)
	require.Empty(t, listings[0].PublishedDate)
	require.Equal(t, "https://other.test/posting", listings[1].URL)
}

func TestEncoders(t *testing.T) {
	t.Parallel()

	require.Equal(t, "python-developer", SlugEncode("  Python   Developer "))
	require.Equal(t, "c%2B%2B-dev", SlugEncode("C++ dev"))
	require.Equal(t, "python+developer", PlusEncode(" python developer "))

	duunitori := DefaultBoards()["duunitori"]
	require.Equal(t, "https://duunitori.fi/tyopaikat/haku/data-engineer?sivu=2", duunitori.PageURL("Data Engineer", 2))
	jobly := DefaultBoards()["jobly"]
	require.Equal(t, "https://www.jobly.fi/en/jobs?search=data+engineer&page=1", jobly.PageURL("data engineer", 1))

	legacy := testBoard()
	legacy.SearchURLTemplate = "https://board.test/{query_slug}/{page}"
	require.Equal(t, "https://board.test/go+dev/3", legacy.PageURL("go dev", 3))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(DefaultBoards())
	require.NoError(t, err)
	require.Equal(t, []string{"duunitori", "jobly"}, reg.Names())

	board, ok := reg.Lookup("Duunitori")
	require.True(t, ok)
	require.Equal(t, 20, board.PaginationThreshold)

	boards, err := reg.Resolve([]string{"jobly", "JOBLY", "duunitori"})
	require.NoError(t, err)
	require.Len(t, boards, 2)

	_, err = reg.Resolve([]string{"monster"})
	require.Error(t, err)

	bad := DefaultBoards()
	broken := bad["jobly"]
	broken.SearchURLTemplate = "https://www.jobly.fi/en/jobs"
	bad["jobly"] = broken
	_, err = NewRegistry(bad)
	require.Error(t, err)
}

func TestBlockDetector(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector(DefaultBlockIndicators)
	require.Equal(t, []string{"captcha", "verify you are human"}, d.Detect([]byte("<h1>CAPTCHA</h1> Verify you are human")))
	require.Empty(t, d.Detect([]byte("<div class=card>ok</div>")))
}

func TestHostThrottle(t *testing.T) {
	t.Parallel()

	var nilThrottle *HostThrottle
	require.NoError(t, nilThrottle.Wait(context.Background(), "https://a.test"))

	th := NewHostThrottle(0, 0)
	require.NoError(t, th.Wait(context.Background(), "https://a.test/x"))

	slow := NewHostThrottle(0.001, 1)
	require.NoError(t, slow.Wait(context.Background(), "https://b.test"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, slow.Wait(ctx, "https://b.test/again"))
}
