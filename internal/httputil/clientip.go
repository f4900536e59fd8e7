package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the caller address used for rate limiting and logs.
// Forwarding headers are honoured only when they hold a parseable IP,
// otherwise the connection's remote address is used.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}

	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if ip := parseIP(r.RemoteAddr); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// parseIP accepts bare or bracketed addresses with an optional port and
// returns the canonical IP, or "" when value is not an address.
func parseIP(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	value = strings.TrimSuffix(strings.TrimPrefix(value, "["), "]")

	ip := net.ParseIP(value)
	if ip == nil {
		return ""
	}
	return ip.String()
}
