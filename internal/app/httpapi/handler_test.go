package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tenenciaexterior/marketdata/internal/app/cache"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/internal/app/fetch"
	"github.com/tenenciaexterior/marketdata/internal/app/services/refresh"
	"github.com/tenenciaexterior/marketdata/internal/app/storage/memory"
)

func newTestHandler(t *testing.T) (http.Handler, *cache.PriceCache, *memory.Store) {
	t.Helper()
	priceCache := cache.New(cache.Config{}, nil)
	store := memory.New()
	orch := refresh.New(priceCache, fetch.NewQueue(time.Microsecond, nil), refresh.Sources{}, nil)

	h := NewHandler(Deps{
		Cache:        priceCache,
		Orchestrator: orch,
		Movements:    store,
		Watchlists:   store,
	})
	return h, priceCache, store
}

func TestPriceEndpoint(t *testing.T) {
	h, priceCache, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/price/AAPL", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for uncached symbol", rec.Code)
	}

	priceCache.MergeQuote("AAPL", market.Quote{Price: 210.5, MarketTimestamp: 1700000000, Source: market.SourcePrimary})

	// the typo-corrected path resolves to the same entry
	req = httptest.NewRequest(http.MethodGet, "/api/price/appl", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Symbol string `json:"symbol"`
		Quote  struct {
			Price float64 `json:"price"`
		} `json:"quote"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Symbol != "AAPL" || payload.Quote.Price != 210.5 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestDailyAndIndicatorEndpoints(t *testing.T) {
	h, priceCache, _ := newTestHandler(t)

	priceCache.MergeDaily("VIST", market.DailyMetrics{Week52High: 60, Week52Low: 30})
	macd := 1.25
	priceCache.MergeIndicators("VIST", market.Indicators{MACD: &macd})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/daily/VIST", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "60") {
		t.Fatalf("daily: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/indicators/VIST", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "1.25") {
		t.Fatalf("indicators: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var report refresh.CycleReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.ID == "" || report.Trigger != "api" {
		t.Fatalf("report = %+v", report)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h, priceCache, _ := newTestHandler(t)
	priceCache.MergeQuote("AAPL", market.Quote{Price: 1, MarketTimestamp: 1})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var payload struct {
		CachedSymbols  int    `json:"cachedSymbols"`
		RefreshRunning bool   `json:"refreshRunning"`
		StreamState    string `json:"streamState"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.CachedSymbols != 1 || payload.RefreshRunning {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.StreamState != "disconnected" {
		t.Fatalf("stream state = %q", payload.StreamState)
	}
}

func TestMovementEndpoints(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"symbol":"appl","side":"buy","quantity":10,"price":150.5,"date":"2026-01-05T00:00:00Z"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/movements", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Symbol != "AAPL" {
		t.Fatalf("symbol not normalized: %q", created.Symbol)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/movements", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), created.ID) {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/movements/"+created.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}

	// invalid side is rejected
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/movements",
		strings.NewReader(`{"symbol":"AAPL","side":"hold","quantity":1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad side: %d", rec.Code)
	}
}

func TestWatchlistEndpoints(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/watchlists",
		strings.NewReader(`{"displayName":"Tech","symbols":["appl","msft"]}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ID      string   `json:"id"`
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created.Symbols) != 2 || created.Symbols[0] != "AAPL" {
		t.Fatalf("symbols = %v", created.Symbols)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/watchlists/"+created.ID,
		strings.NewReader(`{"displayName":"Tech+","symbols":["GOOG"]}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "GOOG") {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/watchlists/"+created.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "marketdata_") {
		t.Fatalf("expected marketdata collectors in metrics output")
	}
}
