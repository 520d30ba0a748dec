package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

type rootOptions struct {
	configPath string
	envPath    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "trackmerge",
		Short: "Merge a track catalog with artist metadata and award nominations",
		Long: `trackmerge joins a music track catalog with artist profiles and an
awards-nomination registry, then replaces the merged_tracks table and
archives a CSV snapshot of the result.

Examples:
  # Run the pipeline once
  trackmerge run

  # Merge without touching the database, writing the CSV locally
  trackmerge run --dry-run --output merged.csv

  # Rerun whenever an input file changes
  trackmerge watch`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", envOr("TM_CONFIG", "trackmerge.yaml"), "config file")
	cmd.PersistentFlags().StringVar(&opts.envPath, "env", ".env", "dotenv file")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newRunsCmd(opts))
	cmd.AddCommand(newMaintainCmd(opts))

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
