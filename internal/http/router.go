package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
)

// RouterOptions carries the optional edge protection. Nil stores disable the
// matching middleware.
type RouterOptions struct {
	Limiter            Limiter
	RateLimitPerMinute int
	Idempotency        IdempotencyStore
}

func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1/reservations", func(r chi.Router) {
		r.Use(IdentityMiddleware)
		if opts.Limiter != nil && opts.RateLimitPerMinute > 0 {
			r.Use(RateLimitMiddleware(opts.Limiter, opts.RateLimitPerMinute, logger))
		}
		if opts.Idempotency != nil {
			r.Use(IdempotencyMiddleware(opts.Idempotency, logger))
		}

		r.Post("/", h.CreateReservation)
		r.Get("/", h.ListReservations)
		r.Get("/{id}", h.GetReservation)
		r.Post("/{id}/pay", h.PayReservation)
		r.Post("/{id}/cancel", h.CancelReservation)
	})

	return r
}
