package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/payment-orders/internal/observability"
	"github.com/robertarktes/payment-orders/internal/ratelimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *ratelimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(IdentityMiddleware)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(rl))

		r.Post("/v1/reservations", h.CreateReservation)
		r.With(IdempotencyKeyMiddleware).Post("/v1/payments/orders", h.CreateOrder)
		r.Get("/v1/payments/orders/{ref}", h.GetOrder)
		r.Post("/v1/payments/orders/{ref}/refund", h.RefundOrder)
		r.Get("/v1/events/{id}/orders", h.ListEventOrders)
	})

	// Gateway channels bypass rate limiting; the signature check is the gate.
	r.Post("/v1/payments/gateway/success", h.GatewaySuccess)
	r.Post("/v1/payments/gateway/failure", h.GatewayFailure)
	r.Post("/v1/payments/gateway/webhook", h.GatewayWebhook)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
