package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS lets the merchant checkout page call the session and status endpoints
// from the browser. No origins means any origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", IdempotencyHeader, RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, idempotencyReplayed},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
