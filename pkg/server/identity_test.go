package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIdentity(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		realIP string
		remote string
		trust  bool
		want   string
	}{
		{"remote addr", "", "", "192.0.2.1:1234", true, "192.0.2.1"},
		{"first forwarded hop", "203.0.113.5, 10.0.0.1", "198.51.100.2", "10.0.0.1:80", true, "203.0.113.5"},
		{"real ip", "", "198.51.100.2", "10.0.0.1:80", true, "198.51.100.2"},
		{"blank forwarded hop", " , 10.0.0.1", "198.51.100.2", "10.0.0.1:80", true, "198.51.100.2"},
		{"headers ignored when untrusted", "203.0.113.5", "198.51.100.2", "10.0.0.1:80", false, "10.0.0.1"},
		{"ipv6 remote", "", "", "[2001:db8::1]:443", false, "2001:db8::1"},
		{"remote without port", "", "", "unix-socket", false, "unix-socket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, ClientIdentity(r, tt.trust))
		})
	}
}
