package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/keithlinneman/vitesheet/internal/log"
)

// requireNonPublicNetwork rejects callers outside loopback, private and
// link-local ranges with 403. The admin port is never meant to be reachable
// from the internet; this backs up the network policy that enforces it.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := remoteAddr(r.RemoteAddr)
		if !ok || !(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()) {
			L.Warn(r.Context(), "ops request from public network rejected",
				"network.peer.address", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteAddr(s string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return netip.Addr{}, false
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}
