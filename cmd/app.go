package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/finsight/insider-scraper/internal/api"
	"github.com/finsight/insider-scraper/internal/browser"
	"github.com/finsight/insider-scraper/internal/config"
	"github.com/finsight/insider-scraper/internal/logging"
	"github.com/finsight/insider-scraper/internal/parser"
	"github.com/finsight/insider-scraper/internal/ratelimit"
	"github.com/finsight/insider-scraper/internal/scraper"
	"github.com/finsight/insider-scraper/internal/store"
	"github.com/finsight/insider-scraper/internal/store/postgres"
	"github.com/finsight/insider-scraper/internal/store/sqlite"
	"github.com/finsight/insider-scraper/internal/transport"
)

// app holds the wired service graph shared by all subcommands.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   store.Store
	client  *transport.Client
	scraper *scraper.Scraper
	ops     *api.Server
}

func buildApp(ctx context.Context, cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	minInterval, err := cfg.MinRequestInterval()
	if err != nil {
		return nil, err
	}
	throttle := ratelimit.New(minInterval)

	var renderer transport.Renderer
	if cfg.Render.Enabled {
		pool := browser.NewPool(browser.PoolConfig{
			MaxInstances:   cfg.Render.MaxInstances,
			Headless:       cfg.Render.Headless,
			AcquireTimeout: time.Duration(cfg.Render.AcquireTimeoutSec) * time.Second,
		}, logger)
		ua := ""
		if len(cfg.HTTP.UserAgents) > 0 {
			ua = cfg.HTTP.UserAgents[0]
		}
		renderer = browser.NewRenderer(browser.RendererConfig{
			WaitSelector: cfg.Render.WaitSelector,
			UserAgent:    ua,
			PageTimeout:  time.Duration(cfg.Render.PageTimeoutSec) * time.Second,
			WaitTimeout:  time.Duration(cfg.Render.WaitTimeoutSec) * time.Second,
		}, pool, throttle, logger)
	}

	client, err := transport.New(transport.Config{
		UserAgents:     cfg.HTTP.UserAgents,
		Proxies:        cfg.HTTP.Proxies,
		RequestTimeout: cfg.RequestTimeout(),
		MaxAttempts:    cfg.HTTP.MaxAttempts,
		BackoffBase:    time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		FailMax:        cfg.HTTP.BreakerFailMax,
		ResetTimeout:   time.Duration(cfg.HTTP.BreakerResetSeconds) * time.Second,
		CacheEnabled:   cfg.Cache.Enabled,
		CacheTTL:       time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	}, throttle, renderer, logger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	changeInterval, err := cfg.ChangeDetectionInterval()
	if err != nil {
		return nil, err
	}
	refreshInterval, err := cfg.FullRefreshInterval()
	if err != nil {
		return nil, err
	}

	sc := scraper.New(scraper.Config{
		BaseURL:                 cfg.Scraper.BaseURL,
		Sources:                 buildSources(cfg.Sources),
		Concurrency:             cfg.Scraper.Concurrency,
		MaxRowsPerCheck:         cfg.Scraper.MaxRowsPerCheck,
		FullRefreshInterval:     refreshInterval,
		ChangeDetectionInterval: changeInterval,
	}, client, parser.New(cfg.Scraper.BaseURL, logger), st, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		client:  client,
		scraper: sc,
	}
	if cfg.Server.Enabled {
		a.ops = api.NewServer(cfg.Server.Port, st, logger)
	}
	return a, nil
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Database.Backend {
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:      cfg.Database.DSN,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		}, logger)
	default:
		return sqlite.New(ctx, cfg.Database.Path, logger)
	}
}

// buildSources flattens the configured source map into a stable order.
func buildSources(sources map[string]config.Source) []scraper.Source {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]scraper.Source, 0, len(names))
	for _, name := range names {
		src := sources[name]
		out = append(out, scraper.Source{
			Name:    name,
			URLPath: src.URLPath,
			Enabled: src.Enabled,
		})
	}
	return out
}

func (a *app) close() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("closing transport", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
