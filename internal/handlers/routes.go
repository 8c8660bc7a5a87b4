package handlers

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/sdko-org/visitor-beacon/internal/metrics"
)

type RouteDeps struct {
	Handler *Handler
	Auth    *Auth
	Limiter *RateLimiter
	Metrics *metrics.Metrics
}

func RegisterRoutes(r *mux.Router, d RouteDeps) {
	r.HandleFunc("/healthz", d.Handler.Health).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Any site may embed the snippet; the per-project allow-list is checked
	// by the pipeline.
	track := r.PathPrefix("/track").Subrouter()
	track.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		MaxAge:         600,
	}))
	if d.Limiter != nil {
		track.Use(d.Limiter.Middleware)
	}
	track.HandleFunc("/{trackingId}", d.Handler.Track).Methods(http.MethodPost, http.MethodOptions)
	track.HandleFunc("/{trackingId}", d.Handler.Count).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(d.Auth.Middleware)
	api.HandleFunc("/track/{trackingId}", d.Handler.TrackInternal).Methods(http.MethodPost)
	api.HandleFunc("/projects/{projectId}/activity", d.Handler.Activity).Methods(http.MethodGet)
	api.HandleFunc("/projects/{projectId}/usage", d.Handler.Usage).Methods(http.MethodGet)
	api.HandleFunc("/notifications", d.Handler.Notifications).Methods(http.MethodGet)
}
