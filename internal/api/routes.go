package api

import (
	"net/http"
	"time"

	"stock-tracker/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestTimeout bounds a request, including a synchronous full-history sync
const requestTimeout = 2 * time.Minute

// NewRouter mounts the symbol API, health and Prometheus endpoints
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(CORSMiddleware(cfg.HTTP.CORSAllowedOrigins))
	r.Use(MetricsMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)
		r.Route("/symbols", func(r chi.Router) {
			r.Get("/", h.HandleListSymbols)
			r.Route("/{symbol}", func(r chi.Router) {
				r.Post("/sync", h.HandleSyncSymbol)
				r.Get("/adjusted", h.HandleGetAdjusted)
				r.Get("/average", h.HandleGetAverages)
				r.Get("/backtest", h.HandleBacktest)
				r.Get("/export", h.HandleExport)
				r.Get("/runs", h.HandleGetSyncRuns)
				r.Get("/verify", h.HandleVerify)
			})
		})
	})

	return r
}
