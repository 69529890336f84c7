package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured.
// triggersPerMinute bounds the endpoints that start remote work.
func NewRouter(h *Handler, triggersPerMinute int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	if triggersPerMinute <= 0 {
		triggersPerMinute = 1
	}
	triggerLimiter := NewTriggerRateLimiter(triggersPerMinute, time.Minute/time.Duration(triggersPerMinute))

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Get("/sync", h.SyncStatus)
			r.Route("/sync/{scope}", func(r chi.Router) {
				r.Use(ScopeCtx)
				r.With(triggerLimiter.Middleware).Post("/", h.TriggerSync)
				r.Delete("/", h.CancelSync)
			})
			r.With(triggerLimiter.Middleware).Post("/offers/{id}/sync", h.SyncOffer)
			r.With(triggerLimiter.Middleware).Post("/offers/{id}/products/sync", h.SyncOfferProducts)
			r.Delete("/prefetch", h.PurgePrefetch)
		})
	})

	return r
}
