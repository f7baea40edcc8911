package http

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/h0rn3t/timescaledb/internal/observability"
)

// RouterConfig holds the dependencies of the API routes.
type RouterConfig struct {
	Planner  Planner
	Metrics  *observability.Metrics
	Stats    *observability.QualStats
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	// Middleware wraps the API routes after the default chain.
	Middleware []func(http.Handler) http.Handler
}

// NewRouter returns the handler serving every API route.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chain := ChainMiddleware(append([]func(http.Handler) http.Handler{DefaultMiddleware(logger)}, cfg.Middleware...)...)

	mux := http.NewServeMux()
	mux.Handle("/v1/explain", chain(NewExplainHandler(cfg.Planner, cfg.Metrics, cfg.Stats, logger)))
	if cfg.Stats != nil {
		mux.Handle("/v1/stats", chain(NewStatsHandler(cfg.Stats)))
	}
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"tsplan"}`))
}
