package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/jonidaniel/jobsai/internal/scraper"
)

func TestNewConfiguresBaseCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "jobsai-test", Timeout: time.Second})
	require.Equal(t, "jobsai-test", f.base.UserAgent)
	require.True(t, f.base.IgnoreRobotsTxt)
	require.True(t, f.base.AllowURLRevisit)
	require.True(t, f.base.ParseHTTPErrorResponse)
	require.Equal(t, defaultMaxBodyBytes, f.base.MaxBodySize)

	f = New(Config{RespectRobots: true, MaxBodyBytes: 1024})
	require.False(t, f.base.IgnoreRobotsTxt)
	require.Equal(t, 1024, f.base.MaxBodySize)
}

func TestPagePrepareAppliesBoardHeaders(t *testing.T) {
	t.Parallel()

	p := &page{headers: http.Header{"Accept-Language": {"fi-FI", "fi"}}}
	r := &colly.Request{Headers: &http.Header{"Accept-Language": {"en"}}}
	p.prepare(r)
	require.Equal(t, []string{"fi-FI", "fi"}, r.Headers.Values("Accept-Language"))
	require.Equal(t, acceptHTML, r.Headers.Get("Accept"))
}

func TestPageResult(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("https://duunitori.fi/tyopaikat/haku/go")
	require.NoError(t, err)

	p := &page{start: time.Now()}
	p.fail(&colly.Response{StatusCode: http.StatusTooManyRequests, Request: &colly.Request{URL: u}}, errors.New("Too Many Requests"))
	resp, err := p.result(nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, u.String(), resp.URL)
	require.NotNil(t, resp.Headers)

	p = &page{}
	p.fail(nil, errors.New("connection reset"))
	_, err = p.result(errors.New("ignored"))
	require.ErrorContains(t, err, "connection reset")

	_, err = (&page{}).result(errors.New("bad url"))
	require.ErrorContains(t, err, "visit failed")

	_, err = (&page{}).result(nil)
	require.Error(t, err)
}

func TestFetchKeepsErrorStatusesAndRevisits(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Board") != "duunitori" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("<html><body><div class=\"card\">Go dev</div></body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	req := scraper.Request{URL: srv.URL + "/search", Headers: http.Header{"X-Board": {"duunitori"}}}

	resp, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "1", resp.Headers.Get("Retry-After"))

	resp, err = f.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "Go dev")
	require.Equal(t, int32(2), hits.Load())
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Fetch(ctx, scraper.Request{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
}
