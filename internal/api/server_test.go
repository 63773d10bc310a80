package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight/insider-scraper/internal/store"
	"github.com/finsight/insider-scraper/internal/trade"
)

type stubStore struct {
	healthErr error
	count     int64
}

func (s *stubStore) InsertTrades(context.Context, []trade.Trade) (int, error) { return 0, nil }
func (s *stubStore) GetSourceProgress(context.Context, string) (*store.SourceProgress, error) {
	return nil, nil
}
func (s *stubStore) UpsertSourceProgress(context.Context, store.SourceProgress) error { return nil }
func (s *stubStore) CountTrades(context.Context) (int64, error)                       { return s.count, nil }
func (s *stubStore) LatestTradeHash(context.Context, string) (string, error)          { return "", nil }
func (s *stubStore) Sources(context.Context) ([]string, error)                        { return nil, nil }
func (s *stubStore) HealthCheck(context.Context) error                                { return s.healthErr }
func (s *stubStore) Close() error                                                     { return nil }

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	srv := NewServer(0, &stubStore{}, zap.NewNop())

	rr := doGet(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyzReflectsStoreHealth(t *testing.T) {
	healthy := NewServer(0, &stubStore{}, zap.NewNop())
	assert.Equal(t, http.StatusOK, doGet(t, healthy, "/readyz").Code)

	broken := NewServer(0, &stubStore{healthErr: errors.New("db unreachable")}, zap.NewNop())
	rr := doGet(t, broken, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "db unreachable")
}

func TestStatsReportsTradeCount(t *testing.T) {
	srv := NewServer(0, &stubStore{count: 123}, zap.NewNop())

	rr := doGet(t, srv, "/v1/stats")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 123, body["trades"])
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	srv := NewServer(0, &stubStore{}, zap.NewNop())

	rr := doGet(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRequestIDIsPreserved(t *testing.T) {
	srv := NewServer(0, &stubStore{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "caller-supplied", rr.Header().Get("X-Request-ID"))
}
