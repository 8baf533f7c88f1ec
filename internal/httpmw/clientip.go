package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client address resolution.
type ClientIPOptions struct {
	// TrustedHops is how many proxies sit in front of the server. 0 ignores
	// X-Forwarded-For, 1 takes the rightmost entry (single load balancer),
	// 2 the second from the right (CDN then load balancer), and so on.
	TrustedHops int
}

// ClientIP resolves the client address with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions stores the resolved client address in the request
// context. Forwarding headers that are not trusted are stripped so nothing
// downstream reads them.
func ClientIPWithOptions(opts ClientIPOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func resolveClientAddr(r *http.Request, hops int) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		stripForwarded(r)
		return "0.0.0.0"
	}

	// only our own network may speak for the client
	if hops <= 0 || !(peer.IsPrivate() || peer.IsLoopback()) {
		stripForwarded(r)
		return peer.String()
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer.String()
	}
	parts := strings.Split(xff, ",")
	idx := len(parts) - hops
	if idx < 0 {
		// fewer hops than configured proxies
		stripForwarded(r)
		return peer.String()
	}
	cand, err := netip.ParseAddr(strings.TrimSpace(parts[idx]))
	if err != nil {
		return peer.String()
	}
	return cand.Unmap().String()
}

func peerAddr(remote string) (netip.Addr, bool) {
	if remote == "" {
		return netip.Addr{}, false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// ClientIPFromContext returns the resolved client address, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
