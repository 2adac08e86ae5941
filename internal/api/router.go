// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/tandem/internal/auth"
	"github.com/tomtom215/tandem/internal/middleware"
	"github.com/tomtom215/tandem/internal/models"
	"github.com/tomtom215/tandem/internal/websocket"
)

// Router builds the chi route tree.
type Router struct {
	handler       *Handler
	verifier      auth.TokenVerifier
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router.
func NewRouter(handler *Handler, verifier auth.TokenVerifier, mw *ChiMiddleware) *Router {
	return &Router{handler: handler, verifier: verifier, chiMiddleware: mw}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "route not found", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Authenticated in-band by the first message; the hijacked connection
	// must not pass through PrometheusMetrics.
	r.With(router.chiMiddleware.RateLimit()).Get("/api/v1/ws", router.handler.WebSocket)

	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(middleware.PrometheusMetrics)
		r.Use(auth.RequireBearer(router.verifier))

		r.Get("/api/v1/matches", router.handler.ListMatches)
		r.Post("/api/v1/matches", router.handler.CreateMatch)
		r.Patch("/api/v1/matches/{id}", router.handler.UpdateMatch)
		r.Delete("/api/v1/matches/{id}", router.handler.DeleteMatch)
		r.Get("/api/v1/profiles/{id}", router.handler.GetProfile)
		r.Put("/api/v1/profiles/me", router.handler.PutMyProfile)
	})

	return r
}

// WebSocket upgrades the connection and hands it to the gateway.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, models.CodeInternal, "realtime gateway unavailable", nil)
		return
	}
	websocket.ServeWS(h.hub, h.wsConfig, w, r)
}
