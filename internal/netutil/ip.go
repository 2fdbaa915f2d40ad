// Package netutil contains small address helpers shared by the ops server
// and the notification webhook senders.
package netutil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

var privateV4 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
}

// IsLocalNetworkIP reports whether addr is an RFC1918, loopback or ::1
// address, including the IPv4-mapped ::ffff:x.y.z.w form. Malformed input
// is never local.
func IsLocalNetworkIP(addr string) bool {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	if ip.Is6() {
		return ip == netip.IPv6Loopback()
	}
	for _, p := range privateV4 {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the requesting client address. When trustProxyHeaders is
// set, X-Forwarded-For (first hop) and X-Real-IP are honoured; otherwise only
// the connection address is used. The trust boundary is deployment dependent,
// so the choice is configuration, never inferred.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := xff
			if idx := strings.IndexByte(xff, ','); idx >= 0 {
				first = xff[:idx]
			}
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
