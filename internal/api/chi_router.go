// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelfeed/reelfeed/internal/auth"
	"github.com/reelfeed/reelfeed/internal/config"
	"github.com/reelfeed/reelfeed/internal/middleware"
)

// Router assembles the HTTP surface.
type Router struct {
	handler       *Handler
	authenticator *auth.Authenticator
	cfg           *config.Config
}

// NewRouter creates a router.
func NewRouter(handler *Handler, authenticator *auth.Authenticator, cfg *config.Config) *Router {
	return &Router{handler: handler, authenticator: authenticator, cfg: cfg}
}

// Setup builds the chi handler with the full middleware stack.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", auth.ViewerIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics stay outside authentication so probes and
	// scrapers need no credentials.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, router.cfg.Security.RateLimitWindow))
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.cfg.Security.RateLimitReqs, router.cfg.Security.RateLimitWindow))
		r.Use(middleware.Prometheus)
		r.Use(router.authenticator.Middleware)

		r.Get("/feed", router.handler.Feed)
		r.Post("/feed/refresh", router.handler.Refresh)
		r.Get("/feed/ws", router.handler.WebSocket)

		r.Post("/items", router.handler.CreateItem)
		r.Delete("/items/{itemID}", router.handler.DeleteItem)
		r.Post("/items/{itemID}/like", router.handler.Like)
		r.Delete("/items/{itemID}/like", router.handler.Unlike)
		r.Post("/items/{itemID}/comments", router.handler.AddComment)
		r.Delete("/items/{itemID}/comments", router.handler.RemoveComment)

		r.Post("/grants", router.handler.CreateGrant)
		r.Delete("/grants", router.handler.RevokeGrant)
		r.Delete("/trust/{granteeID}", router.handler.RevokeTrust)

		r.Get("/media/{itemID}/url", router.handler.MediaURL)
	})

	return r
}
