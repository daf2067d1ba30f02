// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services read them without importing net/http.
//
// Usage in services (read values):
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//	ip := requestcontext.ClientIP(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.7", "Mozilla/5.0")
package requestcontext

import (
	"context"
	"time"

	id "cookieconsent/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	tenantKey         struct{}
	clientIPKey       struct{}
	userAgentKey      struct{}
	refererKey        struct{}
	acceptLanguageKey struct{}
	requestIDKey      struct{}
	requestTimeKey    struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyTenant         = tenantKey{}
	ContextKeyClientIP       = clientIPKey{}
	ContextKeyUserAgent      = userAgentKey{}
	ContextKeyReferer        = refererKey{}
	ContextKeyAcceptLanguage = acceptLanguageKey{}
	ContextKeyRequestID      = requestIDKey{}
	ContextKeyRequestTime    = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Tenant
// -----------------------------------------------------------------------------

// Tenant retrieves the authenticated tenant identity, or nil when the request
// did not pass API key authentication.
func Tenant(ctx context.Context) *id.TenantIdentity {
	if t, ok := ctx.Value(ContextKeyTenant).(*id.TenantIdentity); ok {
		return t
	}
	return nil
}

// WithTenant injects the authenticated tenant identity.
func WithTenant(ctx context.Context, tenant *id.TenantIdentity) context.Context {
	return context.WithValue(ctx, ContextKeyTenant, tenant)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent, Referer, Accept-Language)
// -----------------------------------------------------------------------------

// ClientIP retrieves the observed client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent header from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// Referer retrieves the Referer header from the context.
func Referer(ctx context.Context) string {
	if ref, ok := ctx.Value(ContextKeyReferer).(string); ok {
		return ref
	}
	return ""
}

// AcceptLanguage retrieves the Accept-Language header from the context.
func AcceptLanguage(ctx context.Context) string {
	if lang, ok := ctx.Value(ContextKeyAcceptLanguage).(string); ok {
		return lang
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// WithBrowserHeaders injects the Referer and Accept-Language request headers.
func WithBrowserHeaders(ctx context.Context, referer, acceptLanguage string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyReferer, referer)
	ctx = context.WithValue(ctx, ContextKeyAcceptLanguage, acceptLanguage)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for workers and tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
