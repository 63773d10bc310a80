// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Scraper    ScraperConfig     `mapstructure:"scraper"`
	Sources    map[string]Source `mapstructure:"sources"`
	HTTP       HTTPConfig        `mapstructure:"http"`
	Render     RenderConfig      `mapstructure:"render"`
	Cache      CacheConfig       `mapstructure:"cache"`
	Monitoring MonitoringConfig  `mapstructure:"monitoring"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Server     ServerConfig      `mapstructure:"server"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// Source is one configured listing page.
type Source struct {
	Enabled bool   `mapstructure:"enabled"`
	URLPath string `mapstructure:"url_path"`
}

// ScraperConfig governs orchestration.
type ScraperConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	Concurrency     int    `mapstructure:"concurrency"`
	MaxRowsPerCheck int    `mapstructure:"max_rows_per_check"`
}

// HTTPConfig configures the resilient transport.
type HTTPConfig struct {
	UserAgents          []string `mapstructure:"user_agents"`
	Proxies             []string `mapstructure:"proxies"`
	TimeoutSeconds      int      `mapstructure:"timeout_seconds"`
	MaxAttempts         int      `mapstructure:"max_attempts"`
	BackoffInitialMs    int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int      `mapstructure:"backoff_max_ms"`
	MinRequestInterval  string   `mapstructure:"min_request_interval"`
	BreakerFailMax      int      `mapstructure:"breaker_fail_max"`
	BreakerResetSeconds int      `mapstructure:"breaker_reset_seconds"`
}

// RenderConfig configures the headless fallback.
type RenderConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Headless          bool   `mapstructure:"headless"`
	MaxInstances      int    `mapstructure:"max_instances"`
	AcquireTimeoutSec int    `mapstructure:"acquire_timeout_seconds"`
	PageTimeoutSec    int    `mapstructure:"page_timeout_seconds"`
	WaitSelector      string `mapstructure:"wait_selector"`
	WaitTimeoutSec    int    `mapstructure:"wait_timeout_seconds"`
}

// CacheConfig controls the short-lived response cache.
type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TTLSeconds int  `mapstructure:"ttl_seconds"`
}

// MonitoringConfig sets the continuous-monitoring cadence.
type MonitoringConfig struct {
	ChangeDetectionInterval string `mapstructure:"change_detection_interval"`
	FullRefreshInterval     string `mapstructure:"full_refresh_interval"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Backend  string `mapstructure:"backend"` // "sqlite" or "postgres"
	Path     string `mapstructure:"path"`    // sqlite file path
	DSN      string `mapstructure:"dsn"`     // postgres dsn
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ServerConfig controls the operational HTTP endpoint.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Environment variables use
// the INSIDER_ prefix with underscores, e.g. INSIDER_DATABASE_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.base_url", "http://openinsider.com")
	v.SetDefault("scraper.concurrency", 2)
	v.SetDefault("scraper.max_rows_per_check", 20)
	v.SetDefault("sources", map[string]Source{
		"latest": {Enabled: true, URLPath: "/latest-insider-trading"},
	})
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_initial_ms", 2000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.min_request_interval", "2s")
	v.SetDefault("http.breaker_fail_max", 3)
	v.SetDefault("http.breaker_reset_seconds", 60)
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.headless", true)
	v.SetDefault("render.max_instances", 2)
	v.SetDefault("render.acquire_timeout_seconds", 30)
	v.SetDefault("render.page_timeout_seconds", 45)
	v.SetDefault("render.wait_selector", "table.tinytable")
	v.SetDefault("render.wait_timeout_seconds", 15)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("monitoring.change_detection_interval", "10m")
	v.SetDefault("monitoring.full_refresh_interval", "6h")
	v.SetDefault("database.backend", "sqlite")
	v.SetDefault("database.path", "insider_trades.db")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper.base_url is required")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	for name, src := range c.Sources {
		if src.URLPath == "" {
			return fmt.Errorf("sources.%s.url_path is required", name)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if _, err := c.MinRequestInterval(); err != nil {
		return fmt.Errorf("http.min_request_interval: %w", err)
	}
	if _, err := c.ChangeDetectionInterval(); err != nil {
		return fmt.Errorf("monitoring.change_detection_interval: %w", err)
	}
	if _, err := c.FullRefreshInterval(); err != nil {
		return fmt.Errorf("monitoring.full_refresh_interval: %w", err)
	}
	if c.Render.Enabled && c.Render.MaxInstances <= 0 {
		return fmt.Errorf("render.max_instances must be > 0 when rendering is enabled")
	}
	switch c.Database.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("database.backend must be sqlite or postgres, got %q", c.Database.Backend)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// MinRequestInterval parses the configured request spacing.
func (c Config) MinRequestInterval() (time.Duration, error) {
	return parseDuration(c.HTTP.MinRequestInterval)
}

// ChangeDetectionInterval parses the cheap-check cadence.
func (c Config) ChangeDetectionInterval() (time.Duration, error) {
	return parseDuration(c.Monitoring.ChangeDetectionInterval)
}

// FullRefreshInterval parses the full-refresh cadence.
func (c Config) FullRefreshInterval() (time.Duration, error) {
	return parseDuration(c.Monitoring.FullRefreshInterval)
}

// RequestTimeout converts the HTTP timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}
