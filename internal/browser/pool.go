// Package browser manages a bounded pool of headless-Chrome handles used
// as the transport's rendering fallback.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrPoolExhausted is returned when no handle becomes available within the
// acquire timeout.
var ErrPoolExhausted = errors.New("browser pool exhausted")

// ErrPoolDraining is returned for acquisitions after Drain.
var ErrPoolDraining = errors.New("browser pool draining")

// PoolConfig controls pool behavior.
type PoolConfig struct {
	MaxInstances   int
	Headless       bool
	AcquireTimeout time.Duration
	ResetTimeout   time.Duration
}

// Handle is one live browser context. It is owned by exactly one caller
// between Acquire and Release/Destroy.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Pool bounds the number of concurrently live handles. A single mutex
// guards the created counter and the idle queue; the bound is enforced,
// not advisory.
type Pool struct {
	cfg    PoolConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	created  int
	draining bool
	idle     chan *Handle

	newHandle   func() (*Handle, error)
	resetHandle func(*Handle) error
}

// NewPool builds a Pool backed by a chromedp exec allocator. Handles are
// created lazily on demand.
func NewPool(cfg PoolConfig, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 2
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 5 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	p := &Pool{
		cfg:         cfg,
		logger:      logger,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		idle:        make(chan *Handle, cfg.MaxInstances),
	}
	p.newHandle = p.startBrowser
	p.resetHandle = p.navigateBlank
	return p
}

// newPool builds a pool with injected handle hooks; tests use it to avoid
// spawning real browsers.
func newPool(cfg PoolConfig, logger *zap.Logger, newHandle func() (*Handle, error), resetHandle func(*Handle) error) *Pool {
	p := NewPool(cfg, logger)
	p.newHandle = newHandle
	p.resetHandle = resetHandle
	return p
}

// Acquire returns an idle handle, creates one while under the configured
// maximum, or blocks until a release. Expiry of the acquire timeout yields
// ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrPoolDraining
	}
	select {
	case h := <-p.idle:
		p.mu.Unlock()
		return h, nil
	default:
	}
	if p.created < p.cfg.MaxInstances {
		p.created++
		p.mu.Unlock()
		h, err := p.newHandle()
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, fmt.Errorf("create browser handle: %w", err)
		}
		return h, nil
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case h := <-p.idle:
		return h, nil
	case <-timer.C:
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser handle: %w", ctx.Err())
	}
}

// Release returns a handle after a cheap reset. A handle that fails its
// reset is considered poisoned and destroyed instead of being reused.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	if err := p.resetHandle(h); err != nil {
		p.logger.Warn("browser handle reset failed, destroying", zap.Error(err))
		p.Destroy(h)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		p.closeHandle(h)
		p.created--
		return
	}
	select {
	case p.idle <- h:
	default:
		// Queue full means bookkeeping drifted; drop the handle.
		p.closeHandle(h)
		p.created--
	}
}

// Destroy terminates a handle and decrements the live count. Teardown
// failures never propagate past this call.
func (p *Pool) Destroy(h *Handle) {
	if h == nil {
		return
	}
	p.closeHandle(h)
	p.mu.Lock()
	if p.created > 0 {
		p.created--
	}
	p.mu.Unlock()
}

// Drain closes every idle handle and blocks new acquisitions. Handles
// still checked out are destroyed as they come back.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.draining = true
	for {
		select {
		case h := <-p.idle:
			p.closeHandle(h)
			p.created--
		default:
			p.mu.Unlock()
			if p.allocCancel != nil {
				p.allocCancel()
			}
			return
		}
	}
}

// Live reports the current number of live handles.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

func (p *Pool) closeHandle(h *Handle) {
	if h.cancel != nil {
		h.cancel()
	}
}

// startBrowser spawns a fresh browser context and warms it up so the
// underlying process exists before the handle is handed out.
func (p *Pool) startBrowser() (*Handle, error) {
	ctx, cancel := chromedp.NewContext(p.allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	p.logger.Debug("browser handle created")
	return &Handle{ctx: ctx, cancel: cancel}, nil
}

func (p *Pool) navigateBlank(h *Handle) error {
	ctx, cancel := context.WithTimeout(h.ctx, p.cfg.ResetTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("reset to blank page: %w", err)
	}
	return nil
}
