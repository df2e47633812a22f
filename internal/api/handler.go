package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"stock-tracker/backtest"
	"stock-tracker/config"
	"stock-tracker/internal/app"
	"stock-tracker/models"
	"stock-tracker/observability"
	"stock-tracker/services"

	"github.com/go-chi/chi/v5"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.-]+$`)

// Handler serves the symbol API on top of an App
type Handler struct {
	app    *app.App
	cfg    *config.Config
	health *HealthCache
}

func NewHandler(application *app.App, cfg *config.Config) *Handler {
	return &Handler{
		app:    application,
		cfg:    cfg,
		health: NewHealthCache(DefaultHealthCacheTTL),
	}
}

// healthReport is the body of GET /api/health
type healthReport struct {
	Status          string                   `json:"status"`
	Services        map[string]string        `json:"services"`
	CircuitBreakers []services.BreakerStatus `json:"circuit_breakers"`
}

// HandleHealth reports store connectivity and feed breaker state. Any
// unreachable dependency degrades the status but still answers 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{
		Status:   "ok",
		Services: map[string]string{"database": "not_configured", "price_feed": "not_configured"},
	}

	if store := h.app.Store(); store != nil {
		report.Services["database"] = "connected"
		if err := h.health.Check(r.Context(), store.Health); err != nil {
			report.Services["database"] = "disconnected"
			report.Status = "degraded"
		}
	}
	if h.cfg.HasAlphaVantage() {
		report.Services["price_feed"] = "configured"
	}

	breakers := services.Breakers()
	report.CircuitBreakers = breakers.Status()
	if breakers.AnyOpen() {
		report.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, report)
}

// HandleListSymbols returns the tracked symbols
func (h *Handler) HandleListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.app.ListSymbols(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, symbols)
}

// HandleSyncSymbol syncs one symbol and returns its run
func (h *Handler) HandleSyncSymbol(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolParam(w, r)
	if !ok {
		return
	}

	run, err := h.app.SyncSymbol(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, models.ErrStorageUnavailable) {
			h.health.Invalidate()
		}
		if run == nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, errorStatus(err), run)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// HandleGetAdjusted returns the adjusted series
func (h *Handler) HandleGetAdjusted(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolParam(w, r)
	if !ok {
		return
	}
	start, end, ok := h.rangeParams(w, r)
	if !ok {
		return
	}

	bars, err := h.app.ReadAdjusted(r.Context(), symbol, start, end)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	if bars == nil {
		bars = models.Series{}
	}
	writeJSON(w, http.StatusOK, bars)
}

// HandleGetAverages returns the rolling-average series
func (h *Handler) HandleGetAverages(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolParam(w, r)
	if !ok {
		return
	}
	start, end, ok := h.rangeParams(w, r)
	if !ok {
		return
	}

	points, err := h.app.ReadAverages(r.Context(), symbol, start, end)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	if points == nil {
		points = models.AverageSeries{}
	}
	writeJSON(w, http.StatusOK, points)
}

// HandleBacktest runs every strategy over the requested range
func (h *Handler) HandleBacktest(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolParam(w, r)
	if !ok {
		return
	}
	start, end, ok := h.rangeParams(w, r)
	if !ok {
		return
	}

	result, err := h.app.Backtest(r.Context(), symbol, start, end)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleExport returns the joined series as JSON, or CSV with format=csv
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolParam(w, r)
	if !ok {
		return
	}
	start, end, ok := h.rangeParams(w, r)
	if !ok {
		return
	}

	export, err := h.app.Export(r.Context(), symbol, start, end)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", symbol+".csv"))
		export.WriteCSV(w)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// HandleGetSyncRuns returns recent sync runs of a symbol
func (h *Handler) HandleGetSyncRuns(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolParam(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r, 50)

	runs, err := h.app.GetSyncRuns(r.Context(), symbol, limit)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleVerify recomputes a symbol's derived series and reports mismatches
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	symbol, ok := h.symbolParam(w, r)
	if !ok {
		return
	}

	report, err := h.app.Verify(r.Context(), symbol)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	if !report.Consistent {
		writeJSON(w, http.StatusConflict, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// symbolParam reads and validates the {symbol} path parameter
func (h *Handler) symbolParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := app.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if err := validateSymbol(symbol); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return symbol, true
}

// rangeParams parses the optional start and end query parameters
func (h *Handler) rangeParams(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	var bounds [2]time.Time
	for i, key := range []string{"start", "end"} {
		val := r.URL.Query().Get(key)
		if val == "" {
			continue
		}
		d, err := models.ParseDate(val)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s date %q (want YYYY-MM-DD)", key, val))
			return time.Time{}, time.Time{}, false
		}
		bounds[i] = d
	}
	if !bounds[0].IsZero() && !bounds[1].IsZero() && bounds[1].Before(bounds[0]) {
		writeError(w, http.StatusBadRequest, errors.New("end date is before start date"))
		return time.Time{}, time.Time{}, false
	}
	return bounds[0], bounds[1], true
}

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, backtest.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, models.ErrFeedEmpty):
		return http.StatusNotFound
	case errors.Is(err, models.ErrFeedUnavailable), errors.Is(err, models.ErrMalformedFeedPayload):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrConsistencyViolation):
		return http.StatusConflict
	case errors.Is(err, models.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// maxLimit caps list endpoints
const maxLimit = 500

var (
	errSymbolRequired = errors.New("symbol is required")
	errSymbolTooLong  = errors.New("symbol longer than 10 characters")
	errSymbolFormat   = errors.New("symbol may only contain A-Z, 0-9, dots and dashes")
)

// validateSymbol checks an already normalized ticker
func validateSymbol(symbol string) error {
	switch {
	case symbol == "":
		return errSymbolRequired
	case len(symbol) > 10:
		return errSymbolTooLong
	case !symbolPattern.MatchString(symbol):
		return errSymbolFormat
	}
	return nil
}

// parseLimit reads ?limit=, falling back to def for missing or
// non-positive values and clamping to maxLimit.
func parseLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
