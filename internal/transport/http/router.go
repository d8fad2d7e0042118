package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaycore/internal/dispatch"
)

// NewRouter assembles the HTTP surface: the dispatch endpoint, health, and
// Prometheus metrics, behind request-id, logging, and metrics middleware.
func NewRouter(core *dispatch.Dispatcher, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(Metrics)

	r.Handle("/api/dispatch", NewDispatchHandler(core, logger))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{"status": "ok"})
	})
	return r
}
