// Package requesttime captures a single "now" per request so that expiry checks,
// domain timestamps, and history entries written by one request agree.
package requesttime

import (
	"net/http"
	"time"

	"cookieconsent/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// and stores it in the context for consistent time references throughout the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
