package http

import (
	"net"
	"net/http"
	"strings"
)

const maxUserAgentLen = 512

// IPConfig holds the CIDR ranges of proxies whose forwarding headers are honoured
type IPConfig struct {
	TrustedProxies []string
}

// ClientIPResolver resolves the originating client address of a request.
// Forwarding headers are only read when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver parses the trusted proxy ranges once; invalid CIDRs are skipped
func NewClientIPResolver(config *IPConfig) *ClientIPResolver {
	r := &ClientIPResolver{}
	if config == nil {
		return r
	}
	for _, cidr := range config.TrustedProxies {
		cidr = strings.TrimSpace(cidr)
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil {
				if ip.To4() != nil {
					cidr += "/32"
				} else {
					cidr += "/128"
				}
			}
		}
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			r.trusted = append(r.trusted, ipNet)
		}
	}
	return r
}

// ClientIP returns the client address.
//
// X-Forwarded-For is walked right to left and the first hop that is not a
// trusted proxy wins, so a client cannot prepend a spoofed address.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	remoteIP := getRemoteAddr(r)
	if !c.isTrusted(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if !isValidIP(hop) {
				continue
			}
			if !c.isTrusted(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); isValidIP(xri) {
		return xri
	}

	return remoteIP
}

func (c *ClientIPResolver) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range c.trusted {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// ExtractClientIP is a convenience wrapper for one-off resolution
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	return NewClientIPResolver(config).ClientIP(r)
}

// ExtractUserAgent returns the User-Agent header truncated to a sane length
func ExtractUserAgent(r *http.Request) string {
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	return ua
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}
	return "unknown"
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
