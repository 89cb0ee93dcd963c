package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"github.com/frahmantamala/payment-gateway-shim/api"
	"github.com/frahmantamala/payment-gateway-shim/internal/payment"
	"github.com/frahmantamala/payment-gateway-shim/internal/transport/middleware"
	"github.com/frahmantamala/payment-gateway-shim/internal/transport/swagger"
)

const SessionPath = "/api/payments/session"

// Routes carries everything RegisterAllRoutes mounts. Nil optional members
// (Redis, Idempotency, Validator, NewRelic) switch their feature off.
type Routes struct {
	DB             *sql.DB
	Redis          *redis.Client
	PaymentHandler *payment.Handler
	WebhookHandler *payment.WebhookHandler
	Idempotency    func(http.Handler) http.Handler
	Validator      *middleware.OpenAPIValidator
	NewRelic       *newrelic.Application
	AllowedOrigins []string
	Logger         *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, routes Routes) {
	healthHandler := NewHealthHandler(routes.DB, routes.Redis)

	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(routes.Logger))
	router.Use(middleware.CORS(routes.AllowedOrigins))
	router.Use(middleware.NewRelic(routes.NewRelic))
	router.Use(middleware.LoggingMiddleware(routes.Logger))

	router.Get(swagger.SpecPath, swagger.SpecHandler(api.Spec))
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Route("/payments", func(pr chi.Router) {
			if routes.PaymentHandler != nil {
				pr.Get("/", routes.PaymentHandler.ListPayments)
				pr.Get("/status/{transactionId}", routes.PaymentHandler.GetStatus)

				pr.Group(func(sr chi.Router) {
					if routes.Validator != nil {
						sr.Use(routes.Validator.RequestBody(SessionPath))
					}
					if routes.Idempotency != nil {
						sr.Use(routes.Idempotency)
					}
					sr.Post("/session", routes.PaymentHandler.CreateSession)
				})
			}

			if routes.WebhookHandler != nil {
				pr.Post("/webhook", routes.WebhookHandler.HandlePaymentWebhook)
			}
		})
	})
}
