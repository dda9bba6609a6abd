// Package httputil holds small request helpers shared by middleware and
// handlers.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address used for rate limiting and logs:
// the first valid entry of X-Forwarded-For, then X-Real-IP, then the
// connection's remote address. Bracketed IPv6 forms are unwrapped.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := cleanIP(first); ip != "" {
			return ip
		}
	}
	if ip := cleanIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func cleanIP(raw string) string {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	if net.ParseIP(raw) == nil {
		return ""
	}
	return raw
}
