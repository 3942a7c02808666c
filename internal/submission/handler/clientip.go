package handler

import (
	"net"
	"net/http"
	"strings"
)

// clientIP extracts the originating address for audit records. Forwarded
// headers are consulted first, preferring the first public address, so
// records survive reverse proxies without trusting private hops.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		var firstValid string
		for _, part := range strings.Split(xff, ",") {
			candidate := strings.TrimSpace(part)
			ip := net.ParseIP(candidate)
			if ip == nil {
				continue
			}
			if firstValid == "" {
				firstValid = candidate
			}
			if !ip.IsPrivate() && !ip.IsLoopback() {
				return candidate
			}
		}
		if firstValid != "" {
			return firstValid
		}
	}

	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		if net.ParseIP(xr) != nil {
			return xr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
