package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newFullCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "full",
		Short: "Scrape enabled sources once and persist new trades",
		Long: `Fetches each listing page, parses and validates the trade rows and
inserts the combined batch in a single transaction. Previously seen
trades are skipped, so repeated runs are safe. By default every enabled
source is scraped; --sources restricts the run to a named subset.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			inserted, err := a.scraper.PerformFullScrape(cmd.Context(), sources)
			if err != nil {
				return err
			}
			a.logger.Info("full scrape finished", zap.Int("inserted", inserted))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "comma-separated source names to scrape (default: all enabled)")
	return cmd
}
