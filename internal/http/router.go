package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/showtix/showtix/internal/observability"
	"github.com/showtix/showtix/internal/ratelimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *ratelimit.RateLimiter, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(jwtSecret))
		r.Use(RateLimitMiddleware(rl))

		r.With(IdempotencyKeyRequired).Post("/v1/bookings", h.Reserve)
		r.Get("/v1/bookings", h.ListBookings)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Post("/v1/bookings/{id}/confirm", h.Confirm)
		r.Post("/v1/bookings/{id}/cancel", h.Cancel)
		r.Post("/v1/admin/sweep", h.SweepExpired)
	})

	return r
}
