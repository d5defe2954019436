// Package api exposes the runtime's HTTP surface: the ingress endpoint
// channels deliver messages to, conversation inspection, CSAT capture,
// and the health and readiness probes.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/deskwing/deskwing/internal/api/middleware"
	"github.com/deskwing/deskwing/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.TenantExtractor(cfg.Auth.TenantHeader))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", cfg.Auth.TenantHeader, "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth().Middleware)

	// Probes & info
	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Get("/version", h.Version)

	// API v1
	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", h.IngestMessage)
		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			r.Post("/csat", h.RecordCSAT)
		})
		r.Get("/tools", h.ListTools)
		r.Get("/providers", h.ProviderHealth)
	})

	return r
}
