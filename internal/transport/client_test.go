package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight/insider-scraper/internal/ratelimit"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
		FailMax:      100,
		ResetTimeout: time.Minute,
	}
}

func newTestClient(t *testing.T, cfg Config, renderer Renderer) *Client {
	t.Helper()
	c, err := New(cfg, ratelimit.New(0), renderer, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestGetSuccess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "100", r.URL.Query().Get("maxrows"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t, fastConfig(), nil)
	resp, err := c.Get(context.Background(), srv.URL, url.Values{"maxrows": {"100"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(resp.Body))
	assert.False(t, resp.FromCache)
	assert.EqualValues(t, 1, hits.Load())
}

func TestGetReturnsPromptlyOnContextCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte("too late"))
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, fastConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.Get(ctx, srv.URL, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "cancellation must not wait out the request")
}

func TestGetRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	c := newTestClient(t, fastConfig(), nil)
	resp, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(resp.Body))
	assert.EqualValues(t, 3, hits.Load())
}

func TestGetNonRetryable4xxFailsImmediately(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, fastConfig(), nil)
	_, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.EqualValues(t, 1, hits.Load())
}

func TestGet429YieldsRateLimitError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxAttempts = 2
	c := newTestClient(t, cfg, nil)

	start := time.Now()
	_, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)

	var rlErr *RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "120", rlErr.RetryAfter)
	// The advisory hint must never be slept on in addition to backoff.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCircuitOpensAndBlocksWithoutNetworkAttempt(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.FailMax = 2
	c := newTestClient(t, cfg, nil)

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), srv.URL, nil, nil)
		require.Error(t, err)
	}
	before := hits.Load()

	_, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, hits.Load(), "open circuit must not touch the network")
}

func TestCircuitHalfOpenTrialRecovers(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("back"))
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.FailMax = 1
	cfg.ResetTimeout = 30 * time.Millisecond
	c := newTestClient(t, cfg, nil)

	_, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	_, err = c.Get(context.Background(), srv.URL, nil, nil)
	require.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(50 * time.Millisecond)
	fail.Store(false)

	resp, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "back", string(resp.Body))
}

func TestResponseCacheBypassesNetwork(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("cached"))
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.CacheEnabled = true
	cfg.CacheTTL = time.Minute
	c := newTestClient(t, cfg, nil)

	first, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "cached", string(second.Body))
	assert.EqualValues(t, 1, hits.Load())
}

type fakeRenderer struct {
	content string
	err     error
	calls   atomic.Int32
}

func (f *fakeRenderer) Fetch(_ context.Context, _ string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

func TestRendererFallbackOnNetworkClassFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxAttempts = 2
	renderer := &fakeRenderer{content: "<html>rendered</html>"}
	c := newTestClient(t, cfg, renderer)

	resp, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.Rendered)
	assert.Equal(t, "<html>rendered</html>", string(resp.Body))
	assert.EqualValues(t, 1, renderer.calls.Load())
}

func TestRendererNotUsedForNonRetryable4xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	renderer := &fakeRenderer{content: "nope"}
	c := newTestClient(t, fastConfig(), renderer)

	_, err := c.Get(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.EqualValues(t, 0, renderer.calls.Load())
}

func TestWithParams(t *testing.T) {
	t.Parallel()

	got, err := withParams("http://example.com/screener", url.Values{"maxrows": {"20"}})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/screener?maxrows=20", got)

	got, err = withParams("http://example.com/s?a=1", url.Values{"b": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/s?a=1&b=2", got)
}
