package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/costmodel"
	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/engine"
	"github.com/alanyoungcy/costsim/internal/server/handler"
	"github.com/alanyoungcy/costsim/internal/service"
)

func newTestServer(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	model, err := costmodel.New(costmodel.DefaultParams())
	require.NoError(t, err)
	eng := engine.New(engine.Config{
		Instrument:  "BTC-USDT",
		USDAmount:   decimal.NewFromInt(100),
		DepthLevels: 5,
	}, model, logger)
	_, err = eng.Process(context.Background(), domain.RawSnapshot{
		Instrument: "BTC-USDT",
		Asks:       []domain.RawLevel{{Price: "100", Size: "1"}, {Price: "101", Size: "2"}},
		Bids:       []domain.RawLevel{{Price: "99", Size: "3"}},
		Timestamp:  time.Now().UTC(),
		Sequence:   1,
	})
	require.NoError(t, err)

	svc := service.NewSimulationService(eng, nil, nil, logger)
	srv := NewServer(Config{APIKey: apiKey}, Handlers{
		Health:      handler.NewHealthHandler(nil, logger),
		Status:      handler.NewStatusHandler("monitor", time.Now(), eng, nil),
		Simulations: handler.NewSimulationHandler(svc, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	}, nil, nil, logger)
	return srv.Handler()
}

func TestRoutes(t *testing.T) {
	h := newTestServer(t, "")

	tests := []struct {
		method, path, body string
		want               int
		contains           string
	}{
		{http.MethodGet, "/api/health", "", http.StatusOK, `"status":"ok"`},
		{http.MethodGet, "/api/status", "", http.StatusOK, `"ticks":1`},
		{http.MethodGet, "/api/simulations/latest", "", http.StatusOK, `"fully_filled":true`},
		{http.MethodGet, "/api/book", "", http.StatusOK, `"source":"engine"`},
		{http.MethodGet, "/api/simulations/stream", "", http.StatusNotImplemented, "stream disabled"},
		{http.MethodPost, "/api/simulations", `{"usd_amount":"150"}`, http.StatusOK, `"usd_amount":"150"`},
		{http.MethodPost, "/api/simulations", `{"usd_amount":"1000"}`, http.StatusUnprocessableEntity, `"reason":"InsufficientLiquidity"`},
		{http.MethodGet, "/api/simulations", "", http.StatusNotImplemented, "disabled"},
		{http.MethodGet, "/metrics", "", http.StatusOK, "# metrics"},
		{http.MethodDelete, "/api/simulations", "", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestAuthExemptsHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, "secret")

	for path, want := range map[string]int{
		"/api/health": http.StatusOK,
		"/metrics":    http.StatusOK,
		"/api/status": http.StatusUnauthorized,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
