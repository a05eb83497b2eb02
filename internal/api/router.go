// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curioproject/curio/internal/middleware"
)

// NewRouter assembles the HTTP routing tree.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(h.auth.Middleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Prometheus)
		if !h.cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByRealIP(
				h.cfg.Security.RateLimitReqs,
				h.cfg.Security.RateLimitWindow,
			))
		}

		r.Get("/health", h.Health)
		r.Get("/search", h.Search)
		r.Post("/ingest", h.Ingest)
		r.Get("/previews/{id}", h.PreviewDetail)
	})

	return r
}
