package httputil

import (
	"net/http"
	"strings"
)

// GetClientIP extracts the originating client IP, preferring forwarding
// headers set by the load balancer over the raw remote address.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// TransportHeaders captures the request headers the risk classifier scores:
// user agent, accept-language, and the forwarded client IP.
func TransportHeaders(r *http.Request) map[string]string {
	return map[string]string{
		"user-agent":      r.Header.Get("User-Agent"),
		"accept-language": r.Header.Get("Accept-Language"),
		"x-forwarded-for": GetClientIP(r),
	}
}
