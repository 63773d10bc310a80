// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetches_total",
			Help: "Total page fetches, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	fetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_fetch_retries_total",
			Help: "Total fetch attempts beyond the first.",
		},
	)

	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_response_cache_hits_total",
			Help: "Responses served from the local response cache.",
		},
	)

	circuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		},
	)

	renderFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_render_fallbacks_total",
			Help: "Fetches served by the headless rendering fallback.",
		},
	)

	tradesInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_trades_inserted_total",
			Help: "Newly persisted trade records.",
		},
	)

	scrapeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_source_scrape_duration_seconds",
			Help:    "Duration of a single source scrape cycle.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	sourcesUnchangedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_source_unchanged_total",
			Help: "Scrapes short-circuited by an unchanged content fingerprint.",
		},
		[]string{"source"},
	)
)

// ObserveFetch counts one completed fetch with the given outcome
// ("ok", "error", "fallback").
func ObserveFetch(outcome string) {
	fetchesTotal.WithLabelValues(outcome).Inc()
}

// IncFetchRetry counts a retried fetch attempt.
func IncFetchRetry() {
	fetchRetriesTotal.Inc()
}

// IncCacheHit counts a response served from cache.
func IncCacheHit() {
	cacheHitsTotal.Inc()
}

// SetCircuitState records the breaker state gauge.
func SetCircuitState(state int) {
	circuitState.Set(float64(state))
}

// IncRenderFallback counts a fetch served by the rendering fallback.
func IncRenderFallback() {
	renderFallbacksTotal.Inc()
}

// AddTradesInserted counts newly persisted records.
func AddTradesInserted(n int) {
	if n > 0 {
		tradesInsertedTotal.Add(float64(n))
	}
}

// ObserveScrapeDuration records one source scrape cycle.
func ObserveScrapeDuration(source string, d time.Duration) {
	scrapeDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// IncSourceUnchanged counts a content-hash short circuit.
func IncSourceUnchanged(source string) {
	sourcesUnchangedTotal.WithLabelValues(source).Inc()
}
