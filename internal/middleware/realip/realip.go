package realip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
)

// HeaderXForwardedFor is the header rewritten on every forwarded request.
const HeaderXForwardedFor = "X-Forwarded-For"

// contextKey is the type for the peer IP context key.
type contextKey struct{}

// PeerIP returns the IP part of a connection's remote address.
func PeerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// ForwardedFor returns the X-Forwarded-For value to send upstream. A value
// that is exactly one IPv4 or IPv6 literal is kept as is; anything else,
// including a missing header, a zoned IPv6 address or a comma separated
// chain, is replaced by the peer IP.
func ForwardedFor(value, remoteAddr string) string {
	if value != "" {
		if addr, err := netip.ParseAddr(value); err == nil && addr.Zone() == "" {
			return value
		}
	}
	return PeerIP(remoteAddr)
}

// Middleware stores the connection's peer IP in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithPeer(r.Context(), PeerIP(r.RemoteAddr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithPeer returns a copy of ctx carrying ip.
func WithPeer(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKey{}, ip)
}

// FromContext retrieves the peer IP from the request context.
// Returns empty string if not set.
func FromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(contextKey{}).(string); ok {
		return ip
	}
	return ""
}
