package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/finsight/insider-scraper/internal/metrics"
	"github.com/finsight/insider-scraper/internal/ratelimit"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// RenderError wraps a failure while rendering a page. The handle involved
// is always destroyed, never returned to the pool.
type RenderError struct {
	URL string
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.URL, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// RendererConfig controls page rendering.
type RendererConfig struct {
	// WaitSelector, when set, is a CSS selector that must become visible
	// before the page is considered rendered.
	WaitSelector string
	// UserAgent overrides the browser's default UA when set.
	UserAgent   string
	PageTimeout time.Duration
	WaitTimeout time.Duration
}

// Renderer fetches pages through pooled browser handles. It shares the
// request throttle with the plain HTTP path so both count against the
// same watermark.
type Renderer struct {
	cfg      RendererConfig
	pool     *Pool
	throttle *ratelimit.Throttle
	logger   *zap.Logger

	render func(ctx context.Context, h *Handle, url string) (string, error)
}

// NewRenderer builds a Renderer over an existing pool.
func NewRenderer(cfg RendererConfig, pool *Pool, throttle *ratelimit.Throttle, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 45 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 15 * time.Second
	}
	r := &Renderer{cfg: cfg, pool: pool, throttle: throttle, logger: logger}
	r.render = r.renderPage
	return r
}

// Fetch renders url and returns the resulting document HTML. A handle
// that errored mid-render is destroyed so its broken state cannot leak
// into later requests.
func (r *Renderer) Fetch(ctx context.Context, url string) (string, error) {
	if r.throttle != nil {
		if err := r.throttle.Wait(ctx); err != nil {
			return "", err
		}
	}
	h, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}

	start := time.Now()
	html, err := r.render(ctx, h, url)
	if err != nil {
		r.pool.Destroy(h)
		return "", &RenderError{URL: url, Err: err}
	}
	r.pool.Release(h)

	metrics.ObserveFetch("rendered")
	r.logger.Debug("page rendered",
		zap.String("url", url),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("bytes", len(html)),
	)
	return html, nil
}

// Close drains the underlying pool.
func (r *Renderer) Close() error {
	r.pool.Drain()
	return nil
}

func (r *Renderer) renderPage(ctx context.Context, h *Handle, url string) (string, error) {
	total := r.cfg.PageTimeout
	if r.cfg.WaitSelector != "" {
		total += r.cfg.WaitTimeout
	}
	runCtx, cancel := context.WithTimeout(h.ctx, total)
	defer cancel()

	// Respect the caller's cancellation as well as the page deadline.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return err
			}
			if r.cfg.UserAgent != "" {
				return emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx)
			}
			return nil
		}),
		chromedp.Navigate(url),
	}
	if r.cfg.WaitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(r.cfg.WaitSelector, chromedp.ByQuery))
	}
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return "", err
	}
	return html, nil
}
