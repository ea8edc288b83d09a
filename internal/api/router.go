// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/geomark/internal/config"
)

// Router assembles the middleware stack and the route tree.
type Router struct {
	handlers   *Handlers
	middleware *ChiMiddleware
}

// NewRouter builds a router from the handler set and server configuration.
func NewRouter(handlers *Handlers, cfg *config.ServerConfig) *Router {
	mwConfig := DefaultChiMiddlewareConfig()
	mwConfig.CORSAllowedOrigins = cfg.CORSOrigins
	if cfg.RateLimitReqs > 0 {
		mwConfig.RateLimitRequests = cfg.RateLimitReqs
	}
	if cfg.RateLimitWindow > 0 {
		mwConfig.RateLimitWindow = cfg.RateLimitWindow
	}

	return &Router{
		handlers:   handlers,
		middleware: NewChiMiddleware(mwConfig),
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())
	r.Use(Metrics())

	// Health endpoints stay outside the rate limit so probes never starve.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handlers.HealthLive)
		r.Get("/ready", router.handlers.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())

		r.Route("/games/{gameID}", func(r chi.Router) {
			r.Route("/markers", func(r chi.Router) {
				r.Get("/", router.handlers.ListMarkers)
				r.Post("/", router.handlers.CreateMarker)
				r.Get("/bounds", router.handlers.MarkersInBounds)
				r.Get("/nearby", router.handlers.MarkersNearby)
			})
			r.Post("/bulk-import", router.handlers.BulkImport)
			r.Post("/categories/{categoryID}/detach", router.handlers.DetachCategory)
		})

		r.Route("/markers/{markerID}", func(r chi.Router) {
			r.Get("/", router.handlers.GetMarker)
			r.Patch("/", router.handlers.UpdateMarker)
			r.Delete("/", router.handlers.DeleteMarker)
			r.Get("/history", router.handlers.MarkerHistory)
			r.Get("/version-at", router.handlers.MarkerVersionAt)
		})

		r.Route("/bulk-jobs/{jobID}", func(r chi.Router) {
			r.Get("/", router.handlers.BulkJobStatus)
			r.Delete("/", router.handlers.BulkJobCancel)
		})
	})

	return r
}
