package scraper

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// DefaultBoards returns the built-in board configurations.
func DefaultBoards() map[string]BoardConfig {
	return map[string]BoardConfig{
		"duunitori": {
			Name:              "duunitori",
			HostURL:           "https://duunitori.fi",
			SearchURLTemplate: "https://duunitori.fi/tyopaikat/haku/{query}?sivu={page}",
			QueryEncoding:     EncodingSlug,
			Headers: map[string]string{
				"User-Agent":      browserUserAgent,
				"Accept-Language": "fi-FI,fi;q=0.9,en;q=0.8",
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			},
			CardSelector: ".grid-sandbox.grid-sandbox--tight-bottom.grid-sandbox--tight-top " +
				".grid.grid--middle.job-box.job-box--lg",
			PaginationThreshold:   20,
			TitleSelector:         ".job-box__title",
			CompanySelector:       ".job-box__hover.gtm-search-result",
			LocationSelector:      ".job-box__job-location",
			URLSelector:           ".job-box__hover.gtm-search-result",
			PublishedDateSelector: ".job-box__job-posted",
			DetailSelectors:       []string{".gtm-apply-clicks.description.description--jobentry"},
		},
		"jobly": {
			Name:              "jobly",
			HostURL:           "https://www.jobly.fi",
			SearchURLTemplate: "https://www.jobly.fi/en/jobs?search={query}&page={page}",
			QueryEncoding:     EncodingPlus,
			Headers: map[string]string{
				"User-Agent":      browserUserAgent,
				"Accept-Language": "en-US,en;q=0.9,fi;q=0.8",
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
				"Referer":         "https://www.jobly.fi/",
			},
			CardSelector:          ".views-row",
			PaginationThreshold:   10,
			TitleSelector:         ".node__title a",
			CompanySelector:       ".recruiter-company-profile-job-organization a",
			LocationSelector:      ".location span",
			URLSelector:           ".node__title a",
			PublishedDateSelector: ".date",
			DetailSelectors: []string{
				".field.field--name-body.field--type-text-with-summary.field--label-hidden",
			},
		},
	}
}

// Registry maps board names to their immutable configs. It is built once at
// startup and only read afterwards.
type Registry struct {
	boards map[string]BoardConfig
}

// NewRegistry validates and indexes boards by lowercase name. Map keys fill in
// missing names.
func NewRegistry(boards map[string]BoardConfig) (*Registry, error) {
	if len(boards) == 0 {
		return nil, fmt.Errorf("at least one board is required")
	}
	index := make(map[string]BoardConfig, len(boards))
	for key, board := range boards {
		if board.Name == "" {
			board.Name = key
		}
		board.Name = strings.ToLower(board.Name)
		if err := board.Validate(); err != nil {
			return nil, err
		}
		if _, dup := index[board.Name]; dup {
			return nil, fmt.Errorf("duplicate board %q", board.Name)
		}
		board.Headers = maps.Clone(board.Headers)
		board.DetailSelectors = slices.Clone(board.DetailSelectors)
		index[board.Name] = board
	}
	return &Registry{boards: index}, nil
}

// Lookup finds a board by case-insensitive name.
func (r *Registry) Lookup(name string) (BoardConfig, bool) {
	board, ok := r.boards[strings.ToLower(strings.TrimSpace(name))]
	return board, ok
}

// Names returns the registered board names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.boards))
}

// Resolve maps requested names to configs, failing on the first unknown name.
func (r *Registry) Resolve(names []string) ([]BoardConfig, error) {
	out := make([]BoardConfig, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		board, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown board %q", name)
		}
		if _, dup := seen[board.Name]; dup {
			continue
		}
		seen[board.Name] = struct{}{}
		out = append(out, board)
	}
	return out, nil
}
