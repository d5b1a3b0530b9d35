package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller address once per request. With trustedProxies
// set to zero only the socket peer is used. Otherwise the address is taken
// from X-Forwarded-For, counting trustedProxies hops in from the right, so
// that entries a client prepends itself are never read.
func ClientIP(trustedProxies int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := forwardedAddr(r, trustedProxies)
			if ip == "" {
				ip = remoteHost(r)
			}
			next.ServeHTTP(w, r.WithContext(setClientIP(r.Context(), ip)))
		})
	}
}

func forwardedAddr(r *http.Request, trustedProxies int) string {
	if trustedProxies <= 0 {
		return ""
	}
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			hops = append(hops, strings.TrimSpace(hop))
		}
	}
	if len(hops) < trustedProxies {
		return ""
	}
	ip := hops[len(hops)-trustedProxies]
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
