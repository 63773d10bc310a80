// Package transport performs HTTP GETs with layered fault tolerance:
// circuit breaking, bounded retry with capped exponential backoff, request
// throttling, identity rotation, optional response caching and a pooled
// headless-rendering fallback.
package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	collyproxy "github.com/gocolly/colly/v2/proxy"
	"go.uber.org/zap"

	"github.com/finsight/insider-scraper/internal/metrics"
	"github.com/finsight/insider-scraper/internal/ratelimit"
)

const defaultUserAgent = "insider-scraper/1.0 (+https://github.com/finsight/insider-scraper)"

// commonHeaders are sent with every request unless overridden per call.
var commonHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Connection":      "keep-alive",
}

// Renderer obtains page content when the primary path cannot.
type Renderer interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config controls Client behavior.
type Config struct {
	UserAgents     []string
	Proxies        []string
	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	FailMax        int
	ResetTimeout   time.Duration
	CacheEnabled   bool
	CacheTTL       time.Duration
}

// Response is the transport-level fetch result.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	FromCache  bool
	Rendered   bool
}

// Client is the resilient transport. One long-lived instance is shared by
// all scraping workers; its breaker and throttle state are guarded
// internally.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	httpTransport http.RoundTripper
	proxyFn       colly.ProxyFunc
	breaker       *Breaker
	throttle      *ratelimit.Throttle
	cache         *responseCache
	renderer      Renderer
	logger        *zap.Logger
}

// New builds a Client. throttle is shared with the rendering fallback so
// fallback traffic observes the same request delay; renderer may be nil.
func New(cfg Config, throttle *ratelimit.Throttle, renderer Renderer, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = []string{defaultUserAgent}
	}

	c := colly.NewCollector(colly.AllowURLRevisit())

	client := &Client{
		cfg:           cfg,
		baseCollector: c,
		httpTransport: newHTTPTransport(),
		breaker:       NewBreaker(cfg.FailMax, cfg.ResetTimeout),
		throttle:      throttle,
		renderer:      renderer,
		logger:        logger,
	}
	if len(cfg.Proxies) > 0 {
		pf, err := collyproxy.RoundRobinProxySwitcher(cfg.Proxies...)
		if err != nil {
			return nil, fmt.Errorf("proxy switcher: %w", err)
		}
		client.proxyFn = pf
	}
	if cfg.CacheEnabled {
		client.cache = newResponseCache(cfg.CacheTTL)
	}
	return client, nil
}

// Get fetches url with the full fault-tolerance stack. Cache hits bypass
// throttling and retries entirely.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, headers http.Header) (*Response, error) {
	fullURL, err := withParams(rawURL, params)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if resp, ok := c.cache.get(fullURL); ok {
			metrics.IncCacheHit()
			c.logger.Debug("response cache hit", zap.String("url", fullURL))
			return resp, nil
		}
	}

	if err := c.breaker.Allow(); err != nil {
		metrics.SetCircuitState(int(c.breaker.State()))
		return nil, fmt.Errorf("get %s: %w", fullURL, err)
	}

	resp, err := c.getWithRetries(ctx, fullURL, headers)
	if err != nil {
		c.breaker.Failure()
		metrics.SetCircuitState(int(c.breaker.State()))
		metrics.ObserveFetch("error")
		if c.renderer != nil && networkClass(err) && ctx.Err() == nil {
			return c.fetchRendered(ctx, fullURL, err)
		}
		return nil, err
	}

	c.breaker.Success()
	metrics.SetCircuitState(int(c.breaker.State()))
	metrics.ObserveFetch("ok")
	if c.cache != nil {
		c.cache.put(fullURL, resp)
	}
	return resp, nil
}

// Close releases the connection pool and, when a fallback renderer is
// attached, drains it too.
func (c *Client) Close() error {
	if t, ok := c.httpTransport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	if closer, ok := c.renderer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// getWithRetries runs the bounded attempt loop with capped exponential
// backoff between attempts.
func (c *Client) getWithRetries(ctx context.Context, fullURL string, headers http.Header) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.IncFetchRetry()
			if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, fullURL, headers)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("get %s: %w", fullURL, ctx.Err())
		}
		if !retryable(err) {
			return nil, err
		}

		var rlErr *RateLimitError
		if errors.As(err, &rlErr) && rlErr.RetryAfter != "" {
			// Advisory only; the retry backoff already paces us.
			c.logger.Warn("rate limited, server sent Retry-After hint",
				zap.String("url", fullURL),
				zap.String("retry_after", rlErr.RetryAfter))
		} else {
			c.logger.Warn("fetch attempt failed",
				zap.String("url", fullURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return nil, fmt.Errorf("get %s: retries exhausted: %w", fullURL, lastErr)
}

// attempt performs one raw request through a cloned collector with a fresh
// random user-agent.
func (c *Client) attempt(ctx context.Context, fullURL string, headers http.Header) (*Response, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	collector := c.baseCollector.Clone()
	collector.UserAgent = c.randomUserAgent()
	collector.SetRequestTimeout(c.cfg.RequestTimeout)
	collector.WithTransport(c.httpTransport)
	if c.proxyFn != nil {
		collector.SetProxyFunc(c.proxyFn)
	}

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range commonHeaders {
			r.Headers.Set(key, value)
		}
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})

	out := c.visit(ctx, collector, fullURL)
	if out.err != nil {
		if out.httpFail != nil {
			return nil, c.statusError(fullURL, out.httpFail)
		}
		return nil, fmt.Errorf("fetch %s: %w", fullURL, out.err)
	}
	if out.resp == nil {
		return nil, fmt.Errorf("fetch %s: no response", fullURL)
	}
	return out.resp, nil
}

type visitOutcome struct {
	resp     *Response
	httpFail *Response
	err      error
}

// visit runs collector.Visit in a goroutine so the caller's context can
// cut the wait short. The response callbacks write into the goroutine's
// own outcome, handed over in one channel send, so an abandoned visit
// never touches anything the caller still reads.
func (c *Client) visit(ctx context.Context, collector *colly.Collector, fullURL string) visitOutcome {
	done := make(chan visitOutcome, 1)
	go func() {
		var out visitOutcome
		collector.OnResponse(func(r *colly.Response) {
			out.resp = &Response{
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				Header:     r.Headers.Clone(),
			}
		})
		collector.OnError(func(r *colly.Response, _ error) {
			if r != nil && r.StatusCode > 0 {
				out.httpFail = &Response{
					StatusCode: r.StatusCode,
					Body:       append([]byte(nil), r.Body...),
				}
				if r.Headers != nil {
					out.httpFail.Header = r.Headers.Clone()
				}
			}
		})
		out.err = collector.Visit(fullURL)
		done <- out
	}()
	select {
	case <-ctx.Done():
		return visitOutcome{err: ctx.Err()}
	case out := <-done:
		return out
	}
}

func (c *Client) statusError(fullURL string, resp *Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := ""
		if resp.Header != nil {
			retryAfter = resp.Header.Get("Retry-After")
		}
		return &RateLimitError{URL: fullURL, RetryAfter: retryAfter}
	}
	return &HTTPError{StatusCode: resp.StatusCode, URL: fullURL}
}

// fetchRendered routes the same logical fetch through the headless
// renderer after the primary path failed.
func (c *Client) fetchRendered(ctx context.Context, fullURL string, cause error) (*Response, error) {
	c.logger.Warn("primary fetch failed, using rendering fallback",
		zap.String("url", fullURL),
		zap.Error(cause))
	content, err := c.renderer.Fetch(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("rendering fallback for %s: %w", fullURL, err)
	}
	metrics.IncRenderFallback()
	metrics.ObserveFetch("fallback")
	return &Response{
		StatusCode: http.StatusOK,
		Body:       []byte(content),
		Header:     http.Header{},
		Rendered:   true,
	}, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << (attempt - 1)
	if d > c.cfg.BackoffMax || d <= 0 {
		d = c.cfg.BackoffMax
	}
	return d
}

func (c *Client) randomUserAgent() string {
	return c.cfg.UserAgents[rand.IntN(len(c.cfg.UserAgents))]
}

func withParams(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Set(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
