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
  4. CORS:       Cross-origin requests for frontends and tooling

ROUTE GROUPS:
  /api/batches/*    Batch reads and mutations (intake, split, merge)
  /api/sizes/*      Size spec reference data
  /api/locations/*  Location reference data
  /healthz          Liveness probe

SECURITY NOTE:
  No authentication middleware. The service trusts X-Org-ID and
  X-Actor-ID headers set by an upstream gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Org-ID", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/intake", h.Intake)
			r.Post("/merge", h.Merge)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/split", h.Split)
			r.Get("/{id}/events", h.GetBatchEvents)
			r.Get("/{id}/lineage", h.GetLineage)
		})

		// Reference data routes
		r.Route("/sizes", func(r chi.Router) {
			r.Get("/", h.ListSizeSpecs)
			r.Post("/", h.CreateSizeSpec)
		})
		r.Route("/locations", func(r chi.Router) {
			r.Post("/", h.CreateLocation)
		})
	})

	// Liveness probe
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
