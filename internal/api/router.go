// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nutward/nutward/internal/config"
	"github.com/nutward/nutward/internal/logging"
)

// requestID tags every request with an ID, echoes it in the response
// header, and threads it through the logging context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// NewRouter builds the HTTP routing tree.
func NewRouter(h *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Timeout))

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}

	// Health endpoints stay outside the shared rate limit so aggressive
	// liveness probing never starves real requests.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, cfg.RateLimitWindow))
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if !cfg.RateLimitDisabled {
			r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		}

		r.Get("/status/services", h.ServiceStatus)
		r.Get("/status/connection", h.ConnectionStatus)
		r.Get("/device", h.DeviceState)
		r.Get("/snapshots", h.SnapshotHistory)
		r.Get("/snapshots/latest", h.SnapshotLatest)

		r.Post("/services/start", h.ServicesStart)
		r.Post("/services/stop", h.ServicesStop)
		r.Post("/services/restart", h.ServicesRestart)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
