// Package postgres provides a Postgres-backed store for shared deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finsight/insider-scraper/internal/store"
	"github.com/finsight/insider-scraper/internal/trade"
)

const schema = `
CREATE TABLE IF NOT EXISTS insider_trades (
	hash_id      TEXT PRIMARY KEY,
	filing_date  TIMESTAMPTZ NOT NULL,
	trade_date   TIMESTAMPTZ NOT NULL,
	ticker       TEXT NOT NULL,
	company_name TEXT,
	insider_name TEXT NOT NULL,
	title        TEXT,
	trade_type   TEXT NOT NULL,
	price        DOUBLE PRECISION,
	quantity     BIGINT,
	owned        BIGINT,
	delta_own    DOUBLE PRECISION,
	value        DOUBLE PRECISION,
	form_url     TEXT,
	source       TEXT NOT NULL,
	scraped_at   TIMESTAMPTZ NOT NULL DEFAULT now()
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
	last_scraped_at   TIMESTAMPTZ NOT NULL,
	last_checked_at   TIMESTAMPTZ NOT NULL
);
`

const insertTradeSQL = `
	INSERT INTO insider_trades (
		hash_id, filing_date, trade_date, ticker, company_name,
		insider_name, title, trade_type, price, quantity,
		owned, delta_own, value, form_url, source
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (hash_id) DO NOTHING`

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements store.Store over a pgx connection pool.
type Store struct {
	pool   pgxIface
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to Postgres, verifies the connection and bootstraps the
// schema.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool, logger: logger}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	if err := s.HealthCheck(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres store ready")
	return s, nil
}

// NewWithPool constructs a Store from an existing pool, primarily for
// testing.
func NewWithPool(pool pgxIface, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// InsertTrades writes the batch in one transaction. Duplicate fingerprints
// are skipped; the returned count sums per-statement affected rows.
func (s *Store) InsertTrades(ctx context.Context, trades []trade.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, tr := range trades {
		tag, err := tx.Exec(ctx, insertTradeSQL,
			tr.HashID, tr.FilingDate, tr.TradeDate, tr.Ticker, tr.CompanyName,
			tr.InsiderName, tr.Title, tr.TradeType, tr.Price, tr.Quantity,
			tr.Owned, tr.DeltaOwn, tr.Value, tr.FormURL, tr.Source,
		)
		if err != nil {
			return 0, fmt.Errorf("insert trade %s: %w", tr.HashID, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
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
	row := s.pool.QueryRow(ctx, `
		SELECT source, content_hash, newest_trade_hash, last_scraped_at, last_checked_at
		FROM scrape_progress WHERE source = $1`, source)

	var p store.SourceProgress
	err := row.Scan(&p.Source, &p.ContentHash, &p.NewestTradeHash, &p.LastScrapedAt, &p.LastCheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress for %s: %w", source, err)
	}
	return &p, nil
}

// UpsertSourceProgress replaces the whole progress row for the source.
func (s *Store) UpsertSourceProgress(ctx context.Context, p store.SourceProgress) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_progress (
			source, content_hash, newest_trade_hash, last_scraped_at, last_checked_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			newest_trade_hash = EXCLUDED.newest_trade_hash,
			last_scraped_at = EXCLUDED.last_scraped_at,
			last_checked_at = EXCLUDED.last_checked_at`,
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
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM insider_trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// LatestTradeHash returns the fingerprint of the most recent stored trade
// for a source, or "" when the source has none.
func (s *Store) LatestTradeHash(ctx context.Context, source string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT hash_id FROM insider_trades
		WHERE source = $1
		ORDER BY filing_date DESC, scraped_at DESC
		LIMIT 1`, source).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest trade hash for %s: %w", source, err)
	}
	return hash, nil
}

// Sources lists the distinct source names present in the trade table.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT source FROM insider_trades ORDER BY source`)
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
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM insider_trades LIMIT 1`).Scan(&one)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("probe insider_trades: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
