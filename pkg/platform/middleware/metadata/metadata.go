package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"cookieconsent/pkg/requestcontext"
)

// Resolver determines the client IP of a request. Forwarding headers are
// honoured only when the socket peer is one of the trusted proxies.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver parses trusted proxy addresses or CIDR ranges. With none, the
// socket peer is always the client.
func NewResolver(trustedProxies []string) (*Resolver, error) {
	r := &Resolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			r.trusted = append(r.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

// Middleware extracts the client IP address and the browser headers recorded
// with consent history, and adds them to the context for services.
// This middleware should be applied early in the chain.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), res.ClientIP(r), r.Header.Get("User-Agent"))
		ctx = requestcontext.WithBrowserHeaders(ctx, r.Header.Get("Referer"), r.Header.Get("Accept-Language"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientMetadata records client metadata using the socket peer as the client IP.
func ClientMetadata(next http.Handler) http.Handler {
	return (&Resolver{}).Middleware(next)
}

// ClientIP returns the socket peer, unless it is a trusted proxy. Behind a
// trusted proxy the X-Forwarded-For chain is walked from the right and the
// first untrusted hop wins; X-Real-IP is the fallback.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !res.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !res.isTrusted(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (res *Resolver) isTrusted(host string) bool {
	if len(res.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range res.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
