package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownGrace = 10 * time.Second

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run continuous monitoring until interrupted",
		Long: `Alternates cheap change detection with periodic full refreshes at the
configured intervals. When the ops server is enabled it serves health
probes and Prometheus metrics alongside. Stops cleanly on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			if a.ops != nil {
				go func() {
					if err := a.ops.Start(); err != nil {
						a.logger.Error("ops server failed", zap.Error(err))
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
					defer cancel()
					if err := a.ops.Shutdown(ctx); err != nil {
						a.logger.Warn("ops server shutdown", zap.Error(err))
					}
				}()
			}

			return a.scraper.RunMonitoring(cmd.Context())
		},
	}
}
