package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDBHealthCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "db-health",
		Short: "Verify database connectivity and print the stored trade count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			if err := a.store.HealthCheck(cmd.Context()); err != nil {
				return fmt.Errorf("database unhealthy: %w", err)
			}
			n, err := a.store.CountTrades(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database ok, %d trades stored\n", n)

			if !verbose {
				return nil
			}
			sources, err := a.store.Sources(cmd.Context())
			if err != nil {
				return err
			}
			for _, src := range sources {
				hash, err := a.store.LatestTradeHash(cmd.Context(), src)
				if err != nil {
					a.logger.Warn("reading latest trade hash",
						zap.String("source", src),
						zap.Error(err),
					)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: latest trade %s\n", src, hash)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list per-source latest trade fingerprints")
	return cmd
}
