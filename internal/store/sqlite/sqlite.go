// Package sqlite provides an embedded SQLite-backed store for single-host
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/finsight/insider-scraper/internal/store"
	"github.com/finsight/insider-scraper/internal/trade"
)

const schema = `
CREATE TABLE IF NOT EXISTS insider_trades (
	hash_id      TEXT PRIMARY KEY,
	filing_date  TIMESTAMP NOT NULL,
	trade_date   TIMESTAMP NOT NULL,
	ticker       TEXT NOT NULL,
	company_name TEXT,
	insider_name TEXT NOT NULL,
	title        TEXT,
	trade_type   TEXT NOT NULL,
	price        REAL,
	quantity     INTEGER,
	owned        INTEGER,
	delta_own    REAL,
	value        REAL,
	form_url     TEXT,
	source       TEXT NOT NULL,
	scraped_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trades_filing_date ON insider_trades (filing_date DESC);
CREATE INDEX IF NOT EXISTS idx_trades_trade_date ON insider_trades (trade_date DESC);
CREATE INDEX IF NOT EXISTS idx_trades_ticker ON insider_trades (ticker);
CREATE INDEX IF NOT EXISTS idx_trades_insider ON insider_trades (insider_name);
CREATE INDEX IF NOT EXISTS idx_trades_type ON insider_trades (trade_type);
CREATE INDEX IF NOT EXISTS idx_trades_source ON insider_trades (source);

CREATE TABLE IF NOT EXISTS scrape_progress (
	source            TEXT PRIMARY KEY,
	content_hash      TEXT NOT NULL DEFAULT '',
	newest_trade_hash TEXT NOT NULL DEFAULT '',
	last_scraped_at   TIMESTAMP NOT NULL,
	last_checked_at   TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TRIGGER IF NOT EXISTS trg_scrape_progress_updated
AFTER UPDATE ON scrape_progress
BEGIN
	UPDATE scrape_progress SET updated_at = CURRENT_TIMESTAMP
	WHERE source = NEW.source;
END;
`

// Pragmas applied per connection. WAL keeps readers unblocked during the
// insert transaction; busy_timeout absorbs writer contention.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -20000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store implements store.Store over a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New opens (creating if necessary) the database at path and bootstraps
// the schema. Use ":memory:" for an ephemeral database.
func New(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite permits one writer; a single connection sidesteps
	// SQLITE_BUSY between our own statements.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	logger.Info("sqlite store ready", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// InsertTrades writes the batch in one transaction, skipping fingerprints
// that already exist. The count sums per-statement affected rows, so it is
// exact regardless of how many rows were duplicates.
func (s *Store) InsertTrades(ctx context.Context, trades []trade.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO insider_trades (
			hash_id, filing_date, trade_date, ticker, company_name,
			insider_name, title, trade_type, price, quantity,
			owned, delta_own, value, form_url, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare trade insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, tr := range trades {
		res, err := stmt.ExecContext(ctx,
			tr.HashID, tr.FilingDate, tr.TradeDate, tr.Ticker, tr.CompanyName,
			tr.InsiderName, tr.Title, tr.TradeType, tr.Price, tr.Quantity,
			tr.Owned, tr.DeltaOwn, tr.Value, tr.FormURL, tr.Source,
		)
		if err != nil {
			return 0, fmt.Errorf("insert trade %s: %w", tr.HashID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected for trade %s: %w", tr.HashID, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit trade batch: %w", err)
	}
	s.logger.Debug("trade batch committed",
		zap.Int("batch", len(trades)),
		zap.Int("inserted", inserted),
	)
	return inserted, nil
}

// GetSourceProgress returns nil when the source was never scraped.
func (s *Store) GetSourceProgress(ctx context.Context, source string) (*store.SourceProgress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, content_hash, newest_trade_hash, last_scraped_at, last_checked_at
		FROM scrape_progress WHERE source = ?`, source)

	var p store.SourceProgress
	err := row.Scan(&p.Source, &p.ContentHash, &p.NewestTradeHash, &p.LastScrapedAt, &p.LastCheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress for %s: %w", source, err)
	}
	return &p, nil
}

// UpsertSourceProgress replaces the whole progress row for the source.
func (s *Store) UpsertSourceProgress(ctx context.Context, p store.SourceProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_progress (
			source, content_hash, newest_trade_hash, last_scraped_at, last_checked_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET
			content_hash = excluded.content_hash,
			newest_trade_hash = excluded.newest_trade_hash,
			last_scraped_at = excluded.last_scraped_at,
			last_checked_at = excluded.last_checked_at`,
		p.Source, p.ContentHash, p.NewestTradeHash, p.LastScrapedAt, p.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert progress for %s: %w", p.Source, err)
	}
	return nil
}

// CountTrades reports the total number of stored trades.
func (s *Store) CountTrades(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insider_trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// LatestTradeHash returns the fingerprint of the most recent stored trade
// for a source, or "" when the source has none.
func (s *Store) LatestTradeHash(ctx context.Context, source string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT hash_id FROM insider_trades
		WHERE source = ?
		ORDER BY filing_date DESC, scraped_at DESC
		LIMIT 1`, source).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest trade hash for %s: %w", source, err)
	}
	return hash, nil
}

// Sources lists the distinct source names present in the trade table.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM insider_trades ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan source name: %w", err)
		}
		sources = append(sources, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

// HealthCheck verifies connectivity and that the trade table exists.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM insider_trades LIMIT 1`).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("probe insider_trades: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
