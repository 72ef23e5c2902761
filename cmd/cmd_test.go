package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonidaniel/jobsai/internal/job"
)

const resultsPage = `<html><body><ul>
<li class="job"><h3><a href="/jobs/1">Go Developer</a></h3>
<span class="company">Acme</span><span class="loc">Helsinki</span></li>
<li class="job"><h3><a href="/jobs/2">Backend Engineer</a></h3>
<span class="company">Globex</span><span class="loc">Espoo</span></li>
</ul></body></html>`

func writeConfig(t *testing.T, host string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
logging:
  development: false
  level: error
scraper:
  page_delay_ms: 0
  host_rps: 0
boards:
  local:
    host_url: %[1]s
    search_url_template: %[1]s/search/{query}/{page}
    query_encoding: slug
    card_selector: li.job
    title_selector: h3
    company_selector: .company
    location_selector: .loc
    url_selector: h3 a
`, host)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScrapeCommandPrintsListings(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	out, err := execute(t, "--config", writeConfig(t, srv.URL), "scrape", "--board", "local", "--query", "Go Dev")
	require.NoError(t, err)

	var listings []job.Listing
	require.NoError(t, json.Unmarshal([]byte(out), &listings))
	require.Len(t, listings, 2)
	require.Equal(t, "Go Developer", listings[0].Title)
	require.Equal(t, "Acme", listings[0].Company)
	require.Equal(t, srv.URL+"/jobs/1", listings[0].URL)
	require.Equal(t, "local", listings[0].Source)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/search/go-dev/1"}, paths)
}

func TestScrapeCommandUnknownBoard(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, "http://127.0.0.1:1"), "scrape", "--board", "nope", "--query", "go")
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown board "nope"`)
}

func TestScrapeCommandRequiresFlags(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, "http://127.0.0.1:1"), "scrape", "--board", "local")
	require.Error(t, err)
	require.Contains(t, err.Error(), "query")
}

func TestBoardsCommandListsConfiguredAndBuiltIn(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t, "http://127.0.0.1:1"), "boards")
	require.NoError(t, err)
	require.Contains(t, out, "local\thttp://127.0.0.1:1\n")
	require.Contains(t, out, "duunitori\t")
}

func TestConfigLoadFailureStopsCommand(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "boards")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}
