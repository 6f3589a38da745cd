/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/apiaries/*            Apiary management
  /api/batches/*             Batch management
  /api/certifications/*      Preflight + commit
  /api/records/*             Record listing and public verification
  /api/tokens/*              Balance and top-up
  /api/scenarios/*           Demo scenarios (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Apiary routes
		r.Route("/apiaries", func(r chi.Router) {
			r.Get("/", h.ListApiaries)
			r.Post("/", h.CreateApiary)
			r.Get("/{id}", h.GetApiary)
			r.Put("/{id}", h.UpdateApiary)
			r.Delete("/{id}", h.DeleteApiary)
		})

		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/", h.CreateBatch)
			r.Get("/{id}", h.GetBatch)
			r.Delete("/{id}", h.DeleteBatch)
			r.Get("/{id}/records", h.ListBatchRecords)
		})

		// Certification routes
		r.Route("/certifications", func(r chi.Router) {
			r.Post("/", h.CommitCertification)
			r.Post("/preflight", h.Preflight)
		})

		// Record routes (verify/{code} is the public QR lookup)
		r.Route("/records", func(r chi.Router) {
			r.Get("/", h.ListRecords)
			r.Get("/verify/{code}", h.VerifyRecord)
		})

		// Token routes
		r.Route("/tokens", func(r chi.Router) {
			r.Get("/", h.GetTokenBalance)
			r.Post("/topup", h.TopUpTokens)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
