package netutil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLocalNetworkIP(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.1", true},
		{"172.31.255.254", true},
		{"172.32.0.1", false},
		{"192.168.1.50", true},
		{"127.0.0.1", true},
		{"127.1.2.3", true},
		{"::1", true},
		{"::ffff:192.168.1.50", true},
		{"::ffff:8.8.8.8", false},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"2001:db8::1", false},
		{"", false},
		{"not-an-ip", false},
		{"999.1.1.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLocalNetworkIP(tt.addr))
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:41234"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	r.Header.Set("X-Real-IP", "198.51.100.10")

	assert.Equal(t, "198.51.100.9", ClientIP(r, true))
	assert.Equal(t, "203.0.113.7", ClientIP(r, false))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "198.51.100.10", ClientIP(r, true))

	r.Header.Del("X-Real-IP")
	assert.Equal(t, "203.0.113.7", ClientIP(r, true))
}
