// Package cmd defines the jobsai command line: the HTTP service, the
// standalone worker and a one-off scrape tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonidaniel/jobsai/internal/config"
	"github.com/jonidaniel/jobsai/internal/server"
)

type cfgKeyType string

const cfgKey cfgKeyType = "config"

// newRootCmd creates the root command. Configuration is loaded once before
// any subcommand runs and handed down through the command context.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "jobsai",
		Short: "Job search and cover letter generation service.",
		Long: `jobsai searches configured job boards for listings that match a
candidate's skills, scores them and writes tailored cover letters.

Configuration is read from the file given with --config and from
JOBSAI_* environment variables.`,
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(), newWorkerCmd(), newScrapeCmd(), newBoardsCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "jobsai:", err)
		os.Exit(1)
	}
}
