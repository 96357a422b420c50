package server

import (
	"net"
	"net/http"
	"strings"
)

// ClientIdentity derives the governance identity of r. With trustProxy set
// it prefers the first X-Forwarded-For hop, then X-Real-IP. Otherwise, or
// when neither header is usable, it is the host part of RemoteAddr.
func ClientIdentity(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
