// Package auth authenticates tenant API keys at the HTTP edge.
package auth

import (
	"context"
	"log/slog"
	"net/http"

	id "cookieconsent/pkg/domain"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/platform/httputil"
	"cookieconsent/pkg/requestcontext"
)

// HeaderAPIKey carries the tenant credential.
const HeaderAPIKey = "X-API-Key"

// Authenticator resolves a raw API key into a tenant identity.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*id.TenantIdentity, error)
}

// RequireAPIKey rejects requests without a usable API key and stores the
// resolved tenant in the request context.
func RequireAPIKey(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenant, err := authn.Authenticate(ctx, r.Header.Get(HeaderAPIKey))
			if err != nil {
				if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
					logger.ErrorContext(ctx, "api key authentication failed",
						"request_id", requestcontext.RequestID(ctx),
						"error", err,
					)
				}
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTenant(ctx, tenant)))
		})
	}
}
