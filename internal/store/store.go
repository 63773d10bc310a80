// Package store defines the persistence interface for scraped trades and
// per-source scrape progress.
//
// Using an interface decouples the scraper from a specific backend; an
// embedded SQLite file serves single-host deployments while Postgres
// serves shared ones.
package store

import (
	"context"
	"time"

	"github.com/finsight/insider-scraper/internal/trade"
)

// SourceProgress records what the pipeline last saw for one source. It is
// the basis for skip-unchanged short circuits and cheap change detection.
type SourceProgress struct {
	Source          string
	ContentHash     string
	NewestTradeHash string
	LastScrapedAt   time.Time
	LastCheckedAt   time.Time
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// InsertTrades writes a batch within a single transaction. Rows whose
	// fingerprint already exists are skipped; the returned count is the
	// number of rows actually inserted, so replays report zero.
	InsertTrades(ctx context.Context, trades []trade.Trade) (int, error)

	// GetSourceProgress returns the progress row for a source, or nil
	// (and no error) when the source has never been scraped.
	GetSourceProgress(ctx context.Context, source string) (*SourceProgress, error)

	// UpsertSourceProgress replaces the progress row for a source.
	UpsertSourceProgress(ctx context.Context, p SourceProgress) error

	// CountTrades reports the total number of stored trades.
	CountTrades(ctx context.Context) (int64, error)

	// LatestTradeHash returns the fingerprint of the most recent stored
	// trade for a source, or "" when the source has none.
	LatestTradeHash(ctx context.Context, source string) (string, error)

	// Sources lists the distinct source names present in the trade table.
	Sources(ctx context.Context) ([]string, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
