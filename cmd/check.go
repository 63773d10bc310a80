package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe sources for new trades without a full scrape",
		Long: `Fetches a small capped listing for each source and compares the newest
trade fingerprint against the recorded one. Prints which sources have
updates available; nothing is scraped or inserted. By default every
enabled source is checked; --sources restricts the run to a named
subset.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			updates := 0
			for _, src := range a.scraper.ResolveSources(sources) {
				changed, err := a.scraper.CheckForUpdates(cmd.Context(), src)
				if err != nil {
					a.logger.Warn("change check failed",
						zap.String("source", src.Name),
						zap.Error(err),
					)
					continue
				}
				state := "up to date"
				if changed {
					state = "updates available"
					updates++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", src.Name, state)
			}
			a.logger.Info("change check finished", zap.Int("sources_with_updates", updates))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "comma-separated source names to check (default: all enabled)")
	return cmd
}
