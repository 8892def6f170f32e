package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradecost/internal/book"
	"github.com/quantfold/tradecost/internal/config"
	"github.com/quantfold/tradecost/internal/domain"
	"github.com/quantfold/tradecost/internal/engine"
	"github.com/quantfold/tradecost/internal/model/fee"
	"github.com/quantfold/tradecost/internal/model/impact"
	"github.com/quantfold/tradecost/internal/model/slippage"
	"github.com/quantfold/tradecost/internal/service"
)

const testSymbol = "BTC-USDT-SWAP"

func testMux(t *testing.T) *http.ServeMux {
	t.Helper()
	cfg := config.Defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := book.NewRegistry([]string{testSymbol}, 16)
	require.NoError(t, reg.Apply(domain.BookUpdate{
		Kind:     domain.BookUpdateSnapshot,
		Symbol:   testSymbol,
		Sequence: 1,
		Bids: []domain.PriceLevel{
			{Price: 49_990, Size: 50},
			{Price: 49_980, Size: 100},
		},
		Asks: []domain.PriceLevel{
			{Price: 50_010, Size: 50},
			{Price: 50_020, Size: 100},
		},
		ObservedAt: time.Now(),
	}))

	impactModel, err := impact.New(impact.Config{
		Params: impact.Params{
			Sigma:   cfg.Impact.Sigma,
			Gamma:   cfg.Impact.Gamma,
			Eta:     cfg.Impact.Eta,
			Epsilon: cfg.Impact.Epsilon,
		},
		MaxImpactBps:   cfg.Impact.MaxImpactBps,
		AdaptationRate: cfg.Impact.AdaptationRate,
	})
	require.NoError(t, err)

	eng := engine.New(cfg, reg, impactModel,
		slippage.New(cfg.Slippage, logger),
		fee.New(cfg.Fee, logger),
		nil, logger,
	)
	svc := service.NewEstimateService(eng, nil, nil, nil, logger)

	estimates := NewEstimateHandler(svc, logger)
	books := NewBookHandler(reg, cfg.Book.DepthLevels, logger)
	status := NewStatusHandler("serve", []string{testSymbol}, time.Now(), svc)
	health := NewHealthHandler(logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", health.HealthCheck)
	mux.HandleFunc("POST /api/estimates", estimates.CreateEstimate)
	mux.HandleFunc("GET /api/estimates", estimates.ListEstimates)
	mux.HandleFunc("GET /api/estimates/{id}", estimates.GetEstimate)
	mux.HandleFunc("GET /api/books", books.ListBooks)
	mux.HandleFunc("GET /api/books/{symbol}", books.GetBook)
	mux.HandleFunc("GET /api/status", status.GetStatus)
	return mux
}

func TestCreateEstimate(t *testing.T) {
	mux := testMux(t)

	body := `{"symbol":"BTC-USDT-SWAP","size":10,"side":"buy","order_type":"market","time_horizon":60}`
	req := httptest.NewRequest(http.MethodPost, "/api/estimates", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var est domain.CostEstimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &est))
	assert.NotEmpty(t, est.ID)
	assert.Equal(t, testSymbol, est.Symbol)
	assert.Positive(t, est.TotalCost)
	assert.Positive(t, est.ExchangeFee)
}

func TestCreateEstimateInvalidRequest(t *testing.T) {
	mux := testMux(t)

	tests := map[string]struct {
		body string
		want int
	}{
		"garbage body":    {body: "{not json", want: http.StatusBadRequest},
		"negative size":   {body: `{"symbol":"BTC-USDT-SWAP","size":-1,"side":"buy","order_type":"market","time_horizon":60}`, want: http.StatusBadRequest},
		"unknown side":    {body: `{"symbol":"BTC-USDT-SWAP","size":10,"side":"hold","order_type":"market","time_horizon":60}`, want: http.StatusBadRequest},
		"unknown symbol":  {body: `{"symbol":"ETH-USDT-SWAP","size":10,"side":"buy","order_type":"market","time_horizon":60}`, want: http.StatusNotFound},
		"missing horizon": {body: `{"symbol":"BTC-USDT-SWAP","size":10,"side":"buy","order_type":"market"}`, want: http.StatusBadRequest},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/estimates", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetEstimateHistoryDisabled(t *testing.T) {
	mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/estimates/some-id", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEstimatesRequiresSymbol(t *testing.T) {
	mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/estimates", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBook(t *testing.T) {
	mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/books/"+testSymbol, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap domain.BookSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, testSymbol, snap.Symbol)
	assert.InDelta(t, 50_000, snap.MidPrice, 1e-9)
	assert.Len(t, snap.Bids, 2)

	req = httptest.NewRequest(http.MethodGet, "/api/books/ETH-USDT-SWAP", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBooks(t *testing.T) {
	mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int           `json:"count"`
		Books []bookSummary `json:"books"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.True(t, resp.Books[0].Synced)
	assert.InDelta(t, 150, resp.Books[0].BidDepth, 1e-9)
}

func TestGetStatus(t *testing.T) {
	mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Mode   string                  `json:"mode"`
		Models []domain.TrainingStatus `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "serve", resp.Mode)
	require.Len(t, resp.Models, 2)
	for _, m := range resp.Models {
		assert.False(t, m.Trained)
	}
}

func TestHealthCheck(t *testing.T) {
	mux := testMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
