// Package api exposes the query surface and the HTTP ingestion endpoint.
// All query routes are read-only compositions over the query service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/convograph/convograph/internal/ingest"
	"github.com/convograph/convograph/internal/query"
)

// NewRouter configures the HTTP router.
func NewRouter(logger zerolog.Logger, svc *query.Service, pipe *ingest.Pipeline, snapshots *SnapshotHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	h := &handlers{svc: svc, pipe: pipe}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.postEvent)
		r.Get("/conversations/{id}/timeline", h.conversationTimeline)
		r.Get("/agents/{id}/scorecard", h.agentScorecard)
		r.Get("/collaboration", h.collaborationGraph)
		r.Get("/route", h.routeRecommendation)
		r.Get("/intents", h.popularIntents)
		r.Get("/overview", h.overview)
		if snapshots != nil {
			r.Get("/snapshot", snapshots.export)
		}
	})

	return r
}
