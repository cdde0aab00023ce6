package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/labtracksimple/labtrack/internal/middleware"
	"github.com/labtracksimple/labtrack/internal/port/cache"
)

// RouteOptions carries the middleware dependencies of MountRoutes.
type RouteOptions struct {
	Auth           *middleware.Authenticator
	Idempotency    cache.Cache // nil disables replay of function calls
	IdempotencyTTL time.Duration
	WebSocket      http.HandlerFunc
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(opts.Auth))

		if opts.WebSocket != nil {
			r.Get("/ws", opts.WebSocket)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
			})

			// Orchestrator functions
			r.Route("/functions", func(r chi.Router) {
				if opts.Idempotency != nil {
					r.Use(middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL))
				}
				r.Post("/extract", h.ExtractReport)
				r.Post("/confirm", h.ConfirmReport)
			})

			// Reports
			r.Post("/reports", h.CreateReport)
			r.Get("/reports/{id}/review", h.GetReview)
			r.Post("/reports/{id}/reject", h.RejectReport)

			// Result rows
			r.Patch("/results/{id}", h.UpdateResult)

			// Trends
			r.Get("/people/{id}/trends", h.PersonTrends)
		})
	})
}
