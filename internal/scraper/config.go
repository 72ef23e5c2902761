package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Query encodings understood by BoardConfig.
const (
	EncodingSlug = "slug"
	EncodingPlus = "plus"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// BoardConfig describes how to search and parse one job board. Boards are
// data: adding a board means adding a config, never touching the engine.
type BoardConfig struct {
	Name                string            `mapstructure:"name"`
	HostURL             string            `mapstructure:"host_url"`
	SearchURLTemplate   string            `mapstructure:"search_url_template"`
	QueryEncoding       string            `mapstructure:"query_encoding"`
	Headers             map[string]string `mapstructure:"headers"`
	CardSelector        string            `mapstructure:"card_selector"`
	PaginationThreshold int               `mapstructure:"pagination_threshold"`

	TitleSelector         string `mapstructure:"title_selector"`
	CompanySelector       string `mapstructure:"company_selector"`
	LocationSelector      string `mapstructure:"location_selector"`
	URLSelector           string `mapstructure:"url_selector"`
	PublishedDateSelector string `mapstructure:"published_date_selector"`
	SnippetSelector       string `mapstructure:"snippet_selector"`

	// DetailSelectors are tried in order on the listing's detail page.
	DetailSelectors      []string `mapstructure:"detail_selectors"`
	FallbackLargestBlock bool     `mapstructure:"fallback_largest_block"`
	// Headless routes fetches for this board through the browser fetcher.
	Headless bool `mapstructure:"headless"`
}

// Validate checks the fields the engine cannot work without.
func (b BoardConfig) Validate() error {
	prefix := fmt.Sprintf("boards.%s", b.Name)
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("board name is required")
	}
	host, err := url.Parse(b.HostURL)
	if err != nil || host.Scheme == "" || host.Host == "" {
		return fmt.Errorf("%s.host_url must be an absolute URL", prefix)
	}
	if !strings.Contains(b.SearchURLTemplate, "{page}") {
		return fmt.Errorf("%s.search_url_template must contain {page}", prefix)
	}
	if !strings.Contains(b.SearchURLTemplate, "{query") {
		return fmt.Errorf("%s.search_url_template must contain a query placeholder", prefix)
	}
	switch b.QueryEncoding {
	case EncodingSlug, EncodingPlus:
	default:
		return fmt.Errorf("%s.query_encoding must be %q or %q", prefix, EncodingSlug, EncodingPlus)
	}
	if b.CardSelector == "" || b.TitleSelector == "" {
		return fmt.Errorf("%s.card_selector and title_selector are required", prefix)
	}
	if b.PaginationThreshold < 0 {
		return fmt.Errorf("%s.pagination_threshold must be >= 0", prefix)
	}
	return nil
}

// EncodeQuery applies the board's query encoding.
func (b BoardConfig) EncodeQuery(query string) string {
	switch b.QueryEncoding {
	case EncodingSlug:
		return SlugEncode(query)
	default:
		return PlusEncode(query)
	}
}

// PageURL renders the search URL for one result page (1-based).
func (b BoardConfig) PageURL(query string, page int) string {
	encoded := b.EncodeQuery(query)
	return strings.NewReplacer(
		"{query}", encoded,
		"{query_slug}", encoded,
		"{query_encoded}", encoded,
		"{page}", strconv.Itoa(page),
	).Replace(b.SearchURLTemplate)
}

// Resolve turns a card href into an absolute URL on the board host.
func (b BoardConfig) Resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(b.HostURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// SlugEncode lowercases, joins words with dashes and query-escapes the result.
func SlugEncode(query string) string {
	slug := whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(query)), "-")
	return url.QueryEscape(slug)
}

// PlusEncode query-escapes with spaces as plus signs.
func PlusEncode(query string) string {
	return url.QueryEscape(strings.TrimSpace(query))
}
