package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonidaniel/jobsai/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and in-process workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd, server.ModeServe)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run pipeline workers fed by the Pub/Sub invocation subscription",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd, server.ModeWorker)
		},
	}
}

func runApp(cmd *cobra.Command, mode server.Mode) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), cfg, mode)
	if err != nil {
		return err
	}
	return app.Run(cmd.Context())
}
