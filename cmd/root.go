// Package cmd defines the CLI commands for the insider-scraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// newRootCmd creates the root command. The service graph is built once in
// PersistentPreRunE and handed to subcommands through the context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insider-scraper",
		Short: "Incremental scraper for insider-trade filings",
		Long: `insider-scraper collects insider-trade records from openinsider.com
listing pages. It fetches through a rate-limited, retrying transport with a
headless-browser fallback, deduplicates rows by content fingerprint and
persists them incrementally to SQLite or Postgres.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok && a != nil {
				a.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus INSIDER_* env)")

	cmd.AddCommand(newFullCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newMonitorCmd())
	cmd.AddCommand(newDBHealthCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application not initialized")
	}
	return a, nil
}

// Execute runs the CLI. Interrupts cancel the command context; an
// interrupted run exits 130, any other failure exits 1.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		os.Exit(130)
	}
	os.Exit(1)
}
