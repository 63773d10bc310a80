// Package scraper orchestrates fetching, parsing and persistence for the
// configured trade sources.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finsight/insider-scraper/internal/fingerprint"
	"github.com/finsight/insider-scraper/internal/metrics"
	"github.com/finsight/insider-scraper/internal/parser"
	"github.com/finsight/insider-scraper/internal/store"
	"github.com/finsight/insider-scraper/internal/trade"
	"github.com/finsight/insider-scraper/internal/transport"
)

// Source is one scrape target, typically a filtered listing page.
type Source struct {
	Name    string
	URLPath string
	Enabled bool
}

// Fetcher is the transport surface the orchestrator needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values, headers http.Header) (*transport.Response, error)
}

// PageParser extracts trade rows from a listing page.
type PageParser interface {
	Parse(html string, source string) ([]parser.Row, error)
}

// Config controls orchestration.
type Config struct {
	BaseURL string
	Sources []Source

	// Concurrency bounds how many sources a full scrape works at once.
	Concurrency int

	// MaxRowsPerCheck caps the rows requested during cheap change
	// detection.
	MaxRowsPerCheck int

	FullRefreshInterval     time.Duration
	ChangeDetectionInterval time.Duration
}

// Scraper coordinates the transport, parser and store.
type Scraper struct {
	cfg     Config
	fetcher Fetcher
	parser  PageParser
	store   store.Store
	logger  *zap.Logger

	now func() time.Time
}

// New wires an orchestrator. Concurrency and the check cap get safe
// defaults when unset.
func New(cfg Config, fetcher Fetcher, pageParser PageParser, st store.Store, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxRowsPerCheck <= 0 {
		cfg.MaxRowsPerCheck = 20
	}
	if cfg.FullRefreshInterval <= 0 {
		cfg.FullRefreshInterval = 6 * time.Hour
	}
	if cfg.ChangeDetectionInterval <= 0 {
		cfg.ChangeDetectionInterval = 10 * time.Minute
	}
	return &Scraper{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  pageParser,
		store:   st,
		logger:  logger,
		now:     time.Now,
	}
}

// EnabledSources returns the sources monitoring and full scrapes operate
// on.
func (s *Scraper) EnabledSources() []Source {
	out := make([]Source, 0, len(s.cfg.Sources))
	for _, src := range s.cfg.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// ResolveSources maps an explicit name list onto the enabled sources.
// An empty list means every enabled source; names that are unknown or
// disabled are logged and dropped.
func (s *Scraper) ResolveSources(names []string) []Source {
	enabled := s.EnabledSources()
	if len(names) == 0 {
		return enabled
	}
	byName := make(map[string]Source, len(enabled))
	for _, src := range enabled {
		byName[src.Name] = src
	}
	out := make([]Source, 0, len(names))
	for _, name := range names {
		src, ok := byName[name]
		if !ok {
			s.logger.Warn("skipping unknown or disabled source", zap.String("source", name))
			continue
		}
		out = append(out, src)
	}
	return out
}

// ScrapeSource fetches one source page and returns its valid trades.
//
// When the page content is byte-identical to the previous scrape the parse
// is skipped entirely and an empty slice is returned; only the check
// timestamp advances. Rows that fail validation are dropped individually
// and never fail the page.
func (s *Scraper) ScrapeSource(ctx context.Context, src Source) ([]trade.Trade, error) {
	start := s.now()
	pageURL := s.cfg.BaseURL + src.URLPath

	resp, err := s.fetcher.Get(ctx, pageURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}

	contentHash := fingerprint.Content(resp.Body)
	progress, err := s.store.GetSourceProgress(ctx, src.Name)
	if err != nil {
		return nil, err
	}

	if progress != nil && progress.ContentHash == contentHash {
		metrics.IncSourceUnchanged(src.Name)
		s.logger.Debug("source unchanged, skipping parse", zap.String("source", src.Name))
		progress.LastCheckedAt = s.now()
		if err := s.store.UpsertSourceProgress(ctx, *progress); err != nil {
			return nil, err
		}
		return []trade.Trade{}, nil
	}

	rows, err := s.parser.Parse(string(resp.Body), src.Name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.Name, err)
	}

	trades := s.collectTrades(rows, src.Name)

	newestHash := ""
	if progress != nil {
		newestHash = progress.NewestTradeHash
	}
	if len(trades) > 0 {
		newestHash = trades[0].HashID
	}
	now := s.now()
	if err := s.store.UpsertSourceProgress(ctx, store.SourceProgress{
		Source:          src.Name,
		ContentHash:     contentHash,
		NewestTradeHash: newestHash,
		LastScrapedAt:   now,
		LastCheckedAt:   now,
	}); err != nil {
		return nil, err
	}

	metrics.ObserveScrapeDuration(src.Name, s.now().Sub(start))
	s.logger.Info("source scraped",
		zap.String("source", src.Name),
		zap.Int("rows", len(rows)),
		zap.Int("trades", len(trades)),
		zap.Bool("rendered", resp.Rendered),
	)
	return trades, nil
}

// PerformFullScrape scrapes the named sources, or every enabled source
// when names is empty, and persists the combined batch in one
// transaction. A failing source is logged and skipped; the scrape errors
// out only when every source fails or the context ends.
func (s *Scraper) PerformFullScrape(ctx context.Context, names []string) (int, error) {
	sources := s.ResolveSources(names)
	if len(sources) == 0 {
		return 0, errors.New("no enabled sources to scrape")
	}

	var (
		mu      sync.Mutex
		batch   []trade.Trade
		errs    []error
		wg      sync.WaitGroup
		permits = make(chan struct{}, s.cfg.Concurrency)
	)

	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			select {
			case permits <- struct{}{}:
				defer func() { <-permits }()
			case <-ctx.Done():
				return
			}

			trades, err := s.ScrapeSource(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("source scrape failed",
					zap.String("source", src.Name),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
				return
			}
			batch = append(batch, trades...)
		}(src)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("full scrape interrupted: %w", err)
	}
	if len(errs) == len(sources) {
		return 0, fmt.Errorf("all sources failed: %w", errors.Join(errs...))
	}

	inserted, err := s.store.InsertTrades(ctx, batch)
	if err != nil {
		return 0, err
	}
	metrics.AddTradesInserted(inserted)
	s.logger.Info("full scrape complete",
		zap.Int("sources", len(sources)),
		zap.Int("failed_sources", len(errs)),
		zap.Int("collected", len(batch)),
		zap.Int("inserted", inserted),
	)
	return inserted, nil
}

// CheckForUpdates is the cheap change probe. It fetches a capped listing
// for the source, fingerprints the newest row and compares it against the
// recorded one. First contact with a source reports updates available.
func (s *Scraper) CheckForUpdates(ctx context.Context, src Source) (bool, error) {
	params := url.Values{"maxrows": {strconv.Itoa(s.cfg.MaxRowsPerCheck)}}
	resp, err := s.fetcher.Get(ctx, s.cfg.BaseURL+src.URLPath, params, nil)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", src.Name, err)
	}

	rows, err := s.parser.Parse(string(resp.Body), src.Name)
	if err != nil {
		return false, fmt.Errorf("parse check page for %s: %w", src.Name, err)
	}

	newestHash := ""
	for _, row := range rows {
		tr, err := trade.FromRow(row, src.Name)
		if err != nil {
			continue
		}
		newestHash = tr.HashID
		break
	}

	now := s.now()
	progress, err := s.store.GetSourceProgress(ctx, src.Name)
	if err != nil {
		return false, err
	}
	if progress == nil {
		// First contact. Create the bookkeeping row with the check
		// timestamp only; the scrape fields stay empty until a full
		// scrape of the source actually succeeds, so a failed follow-up
		// scrape keeps later checks reporting an update.
		if err := s.store.UpsertSourceProgress(ctx, store.SourceProgress{
			Source:        src.Name,
			LastCheckedAt: now,
		}); err != nil {
			return false, err
		}
		return true, nil
	}

	changed := newestHash != "" && newestHash != progress.NewestTradeHash
	progress.LastCheckedAt = now
	if err := s.store.UpsertSourceProgress(ctx, *progress); err != nil {
		return false, err
	}
	return changed, nil
}

// RunMonitoring alternates cheap change detection with periodic full
// refreshes until the context ends. Per-source failures are logged and do
// not stop the loop.
func (s *Scraper) RunMonitoring(ctx context.Context) error {
	s.logger.Info("monitoring started",
		zap.Duration("change_detection_interval", s.cfg.ChangeDetectionInterval),
		zap.Duration("full_refresh_interval", s.cfg.FullRefreshInterval),
	)

	lastFull := time.Time{}
	for {
		if s.now().Sub(lastFull) >= s.cfg.FullRefreshInterval {
			if _, err := s.PerformFullScrape(ctx, nil); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("scheduled full scrape failed", zap.Error(err))
			}
			lastFull = s.now()
		} else {
			s.runChangeDetection(ctx)
		}

		if err := sleepCtx(ctx, s.cfg.ChangeDetectionInterval); err != nil {
			s.logger.Info("monitoring stopped")
			return err
		}
	}
}

func (s *Scraper) runChangeDetection(ctx context.Context) {
	var changed []string
	for _, src := range s.EnabledSources() {
		if ctx.Err() != nil {
			return
		}
		updated, err := s.CheckForUpdates(ctx, src)
		if err != nil {
			s.logger.Warn("change check failed",
				zap.String("source", src.Name),
				zap.Error(err),
			)
			continue
		}
		if updated {
			changed = append(changed, src.Name)
		}
	}
	if len(changed) == 0 {
		return
	}

	inserted, err := s.PerformFullScrape(ctx, changed)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("refresh after change failed",
			zap.Strings("sources", changed),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("new trades detected",
		zap.Strings("sources", changed),
		zap.Int("inserted", inserted),
	)
}

func (s *Scraper) collectTrades(rows []parser.Row, source string) []trade.Trade {
	trades := make([]trade.Trade, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		tr, err := trade.FromRow(row, source)
		if err != nil {
			dropped++
			s.logger.Warn("dropping invalid row",
				zap.String("source", source),
				zap.Error(err),
			)
			continue
		}
		trades = append(trades, tr)
	}
	if dropped > 0 {
		s.logger.Info("rows dropped during validation",
			zap.String("source", source),
			zap.Int("dropped", dropped),
		)
	}
	return trades
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
