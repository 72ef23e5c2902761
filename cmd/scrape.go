package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/logging"
	"github.com/jonidaniel/jobsai/internal/scraper"
	"github.com/jonidaniel/jobsai/internal/server"
)

type scrapeOptions struct {
	board string
	query string
	pages int
	limit int
	deep  bool
}

// newScrapeCmd runs one board query outside the pipeline and prints the
// listings as JSON. Useful when tuning board selectors.
func newScrapeCmd() *cobra.Command {
	var opts scrapeOptions
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape one board for one query and print the listings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.board, "board", "", "board name")
	cmd.Flags().StringVar(&opts.query, "query", "", "search query")
	cmd.Flags().IntVar(&opts.pages, "pages", 1, "number of result pages")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "stop after this many listings (0 = no limit)")
	cmd.Flags().BoolVar(&opts.deep, "deep", false, "fetch each listing's detail page")
	_ = cmd.MarkFlagRequired("board")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func runScrape(cmd *cobra.Command, opts scrapeOptions) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.query) == "" {
		return fmt.Errorf("query must not be empty")
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry, err := scraper.NewRegistry(cfg.BoardConfigs())
	if err != nil {
		return err
	}
	board, ok := registry.Lookup(opts.board)
	if !ok {
		return fmt.Errorf("unknown board %q (known: %s)", opts.board, strings.Join(registry.Names(), ", "))
	}
	engine, release, err := server.NewScraper(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	listings, err := engine.Scrape(cmd.Context(), nil, opts.query, board, scraper.Options{
		NumPages:     opts.pages,
		DeepMode:     opts.deep,
		PerPageLimit: opts.limit,
	})
	if err != nil {
		return fmt.Errorf("scrape %s: %w", board.Name, err)
	}
	logger.Info("scrape complete", zap.String("board", board.Name), zap.Int("listings", len(listings)))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(listings)
}

func newBoardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the configured job boards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := scraper.NewRegistry(cfg.BoardConfigs())
			if err != nil {
				return err
			}
			for _, name := range registry.Names() {
				board, _ := registry.Lookup(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, board.HostURL)
			}
			return nil
		},
	}
}
