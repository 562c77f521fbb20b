// Package httpapi exposes the read API over the price cache plus the
// movement and watchlist stores.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tenenciaexterior/marketdata/internal/app/cache"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/portfolio"
	"github.com/tenenciaexterior/marketdata/internal/app/domain/watchlist"
	"github.com/tenenciaexterior/marketdata/internal/app/metrics"
	"github.com/tenenciaexterior/marketdata/internal/app/services/refresh"
	"github.com/tenenciaexterior/marketdata/internal/app/services/stream"
	"github.com/tenenciaexterior/marketdata/internal/app/sources"
	"github.com/tenenciaexterior/marketdata/internal/app/storage"
	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

// Deps carries everything the handler serves from.
type Deps struct {
	Cache        *cache.PriceCache
	Orchestrator *refresh.Orchestrator
	Stream       *stream.Manager
	Movements    storage.MovementStore
	Watchlists   storage.WatchlistStore
	Log          *logger.Logger
}

type handler struct {
	deps Deps
}

// NewHandler returns the router with metrics instrumentation applied.
func NewHandler(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.NewDefault("httpapi")
	}
	h := &handler{deps: deps}

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/price/{symbol}", h.price).Methods(http.MethodGet)
	api.HandleFunc("/daily/{symbol}", h.daily).Methods(http.MethodGet)
	api.HandleFunc("/indicators/{symbol}", h.indicators).Methods(http.MethodGet)
	api.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	api.HandleFunc("/status", h.status).Methods(http.MethodGet)

	api.HandleFunc("/movements", h.listMovements).Methods(http.MethodGet)
	api.HandleFunc("/movements", h.createMovement).Methods(http.MethodPost)
	api.HandleFunc("/movements/{id}", h.deleteMovement).Methods(http.MethodDelete)

	api.HandleFunc("/watchlists", h.listWatchlists).Methods(http.MethodGet)
	api.HandleFunc("/watchlists", h.createWatchlist).Methods(http.MethodPost)
	api.HandleFunc("/watchlists/{id}", h.updateWatchlist).Methods(http.MethodPut)
	api.HandleFunc("/watchlists/{id}", h.deleteWatchlist).Methods(http.MethodDelete)

	return metrics.InstrumentHandler(r)
}

func (h *handler) symbol(r *http.Request) string {
	return sources.NormalizeSymbol(mux.Vars(r)["symbol"])
}

func (h *handler) price(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.deps.Cache.Get(h.symbol(r))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("symbol not cached"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":     entry.Symbol,
		"quote":      entry.Quote,
		"rating":     entry.Rating,
		"lastUpdate": entry.LastUpdate,
	})
}

func (h *handler) daily(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.deps.Cache.Get(h.symbol(r))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("symbol not cached"))
		return
	}
	writeJSON(w, http.StatusOK, entry.DailyMetrics)
}

func (h *handler) indicators(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.deps.Cache.Get(h.symbol(r))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("symbol not cached"))
		return
	}
	writeJSON(w, http.StatusOK, entry.Indicators)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Orchestrator.RunCycle(r.Context(), "api")
	if err != nil {
		if errors.Is(err, refresh.ErrCycleRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	streamState := stream.StateDisconnected
	if h.deps.Stream != nil {
		streamState = h.deps.Stream.State()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cachedSymbols":  h.deps.Cache.Len(),
		"refreshRunning": h.deps.Orchestrator.Running(),
		"streamState":    streamState.String(),
		"time":           time.Now().UTC(),
	})
}

func (h *handler) listMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.deps.Movements.ListMovements(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (h *handler) createMovement(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Symbol   string    `json:"symbol"`
		Side     string    `json:"side"`
		Quantity float64   `json:"quantity"`
		Price    float64   `json:"price"`
		Date     time.Time `json:"date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Symbol == "" || payload.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("symbol and positive quantity required"))
		return
	}
	side := portfolio.Side(payload.Side)
	if side != portfolio.SideBuy && side != portfolio.SideSell {
		writeError(w, http.StatusBadRequest, errors.New("side must be buy or sell"))
		return
	}

	mov, err := h.deps.Movements.CreateMovement(r.Context(), portfolio.Movement{
		Symbol:   sources.NormalizeSymbol(payload.Symbol),
		Side:     side,
		Quantity: payload.Quantity,
		Price:    payload.Price,
		Date:     payload.Date,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, mov)
}

func (h *handler) deleteMovement(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Movements.DeleteMovement(r.Context(), mux.Vars(r)["id"]); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listWatchlists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.deps.Watchlists.ListWatchlists(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

func (h *handler) createWatchlist(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName string   `json:"displayName"`
		Icon        string   `json:"icon"`
		Symbols     []string `json:"symbols"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.DisplayName == "" {
		writeError(w, http.StatusBadRequest, errors.New("displayName required"))
		return
	}

	wl, err := h.deps.Watchlists.CreateWatchlist(r.Context(), watchlist.Watchlist{
		DisplayName: payload.DisplayName,
		Icon:        payload.Icon,
		Symbols:     normalizeAll(payload.Symbols),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, wl)
}

func (h *handler) updateWatchlist(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName string   `json:"displayName"`
		Icon        string   `json:"icon"`
		Symbols     []string `json:"symbols"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	wl, err := h.deps.Watchlists.UpdateWatchlist(r.Context(), watchlist.Watchlist{
		ID:          mux.Vars(r)["id"],
		DisplayName: payload.DisplayName,
		Icon:        payload.Icon,
		Symbols:     normalizeAll(payload.Symbols),
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

func (h *handler) deleteWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Watchlists.DeleteWatchlist(r.Context(), mux.Vars(r)["id"]); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func normalizeAll(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if n := sources.NormalizeSymbol(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
