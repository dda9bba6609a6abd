package httputil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		realIP string
		remote string
		want   string
	}{
		{name: "remote addr", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "forwarded chain", xff: "203.0.113.7, 10.0.0.2", remote: "10.0.0.1:5555", want: "203.0.113.7"},
		{name: "invalid forwarded falls through", xff: "unknown", realIP: "198.51.100.4", remote: "10.0.0.1:1", want: "198.51.100.4"},
		{name: "bracketed ipv6", xff: "[2001:db8::1]", remote: "10.0.0.1:1", want: "2001:db8::1"},
		{name: "ipv6 remote", remote: "[::1]:8080", want: "::1"},
		{name: "remote without port", remote: "local", want: "local"},
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
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
