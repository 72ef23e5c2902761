package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/jonidaniel/jobsai/internal/scraper"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Tabs: -1})
	require.Error(t, err)

	b, err := New(Config{Tabs: 3, SettleDelay: -time.Second, ScrollPasses: -2})
	require.NoError(t, err)
	defer b.Close()

	require.Equal(t, 3, cap(b.tabs))
	require.Equal(t, defaultPageTimeout, b.cfg.PageTimeout)
	require.Equal(t, defaultSelectorTimeout, b.cfg.SelectorTimeout)
	require.Equal(t, "body", b.cfg.WaitSelector)
	require.Zero(t, b.cfg.SettleDelay)
	require.Zero(t, b.cfg.ScrollPasses)
}

func TestNewUnboundedTabs(t *testing.T) {
	t.Parallel()

	b, err := New(Config{})
	require.NoError(t, err)
	defer b.Close()
	require.Nil(t, b.tabs)
	require.NoError(t, b.openTab(context.Background()))
	b.closeTab()
}

func TestOpenTabHonorsCancellation(t *testing.T) {
	t.Parallel()

	b := &Browser{tabs: make(chan struct{}, 1)}
	require.NoError(t, b.openTab(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.openTab(ctx), context.Canceled)

	b.closeTab()
	require.NoError(t, b.openTab(context.Background()))
}

func TestDocumentRecorderKeepsMainDocument(t *testing.T) {
	t.Parallel()

	d := &documentRecorder{}
	d.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example/app.js"},
	})
	d.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  429,
			URL:     "https://duunitori.fi/tyopaikat/haku/golang",
			Headers: network.Headers{"Content-Type": "text/html", "Set-Cookie": "a=1\nb=2"},
		},
	})
	d.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example/frame"},
	})

	resp := d.response("https://req", "https://final")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "https://duunitori.fi/tyopaikat/haku/golang", resp.URL)
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
	require.Equal(t, []string{"a=1", "b=2"}, resp.Headers.Values("Set-Cookie"))
}

func TestDocumentRecorderFallbacks(t *testing.T) {
	t.Parallel()

	resp := (&documentRecorder{}).response("https://req", "https://final")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://final", resp.URL)
	require.NotNil(t, resp.Headers)

	resp = (&documentRecorder{}).response("https://req", "")
	require.Equal(t, "https://req", resp.URL)
}

func TestExtraHeadersJoinsValues(t *testing.T) {
	t.Parallel()

	got := extraHeaders(http.Header{
		"Accept-Language": {"fi", "en"},
		"X-Empty":         nil,
	})
	require.Equal(t, network.Headers{"Accept-Language": "fi, en"}, got)
}

func TestDisabledFails(t *testing.T) {
	t.Parallel()

	_, err := Disabled{}.Fetch(context.Background(), scraper.Request{URL: "https://jobly.fi"})
	require.True(t, errors.Is(err, ErrDisabled))
	require.Contains(t, err.Error(), "https://jobly.fi")
}
