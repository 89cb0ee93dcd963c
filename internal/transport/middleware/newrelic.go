package middleware

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelic starts one APM transaction per request, named after the chi route
// pattern so path parameters do not explode the transaction count. A nil app
// turns it into a pass-through.
func NewRelic(app *newrelic.Application) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if app == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			txn := app.StartTransaction(r.Method + " " + r.URL.Path)
			defer txn.End()

			txn.SetWebRequestHTTP(r)
			writer := txn.SetWebResponse(w)

			r = newrelic.RequestWithTransactionContext(r, txn)
			next.ServeHTTP(writer, r)

			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					txn.SetName(r.Method + " " + pattern)
				}
			}
		})
	}
}
