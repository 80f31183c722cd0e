package main

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/fxacademy/internal/api"
	"github.com/onnwee/fxacademy/internal/idempotency"
	"github.com/onnwee/fxacademy/internal/middleware"
)

const serviceName = "fxacademy-api"

// routerDeps are the handlers and cross-cutting components served by the API.
type routerDeps struct {
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *middleware.Metrics

	Webhooks *api.WebhookHandlers
	Payments *api.PaymentHandlers
	Plans    *api.PlanHandlers
	Health   *api.HealthHandlers

	Tokens          middleware.TokenValidator
	RateLimitStore  middleware.RateLimitStore
	RateLimit       middleware.RateLimitConfig
	IdempotencyRepo idempotency.Repository

	StripeWebhooks bool
}

// newRouter builds the HTTP handler.
// Middleware order, outermost first: RequestID, Logging, HTTPMetrics, Tracing.
func newRouter(d routerDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", d.Health.Health)
	mux.HandleFunc("GET /ready", d.Health.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /plans", d.Plans.ListPlans)

	// Provider callbacks are authenticated by signature, not by user token.
	mux.HandleFunc("POST /payments/webhook", d.Webhooks.HandlePaystackWebhook)
	if d.StripeWebhooks {
		mux.HandleFunc("POST /payments/webhook/stripe", d.Webhooks.HandleStripeWebhook)
	}

	requireAuth := middleware.RequireAuth(d.Tokens)
	limit := middleware.RateLimiter(d.RateLimitStore, d.RateLimit, middleware.UserKeyFunc(), d.Metrics, "/payments/initialize")
	idem := middleware.Idempotency(d.IdempotencyRepo, d.Metrics)

	mux.Handle("POST /payments/initialize", requireAuth(limit(idem(http.HandlerFunc(d.Payments.InitializePayment)))))
	mux.Handle("GET /payments/subscription", requireAuth(http.HandlerFunc(d.Payments.GetSubscription)))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
	})

	var handler http.Handler = mux
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.HTTPMetrics(d.Metrics)(handler)
	handler = middleware.Logging(d.Logger)(handler)
	handler = middleware.RequestID(handler)
	return handler
}
