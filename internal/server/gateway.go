package server

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Cloudflare edge ranges, expanded by the "cloudflare" keyword in
// --trusted-proxy. Static defaults; refresh against
// https://www.cloudflare.com/ips when they go stale.
var cloudflareCIDRs = []string{
	"173.245.48.0/20",
	"103.21.244.0/22",
	"103.22.200.0/22",
	"103.31.4.0/22",
	"141.101.64.0/18",
	"108.162.192.0/18",
	"190.93.240.0/20",
	"188.114.96.0/20",
	"197.234.240.0/22",
	"198.41.128.0/17",
	"162.158.0.0/15",
	"104.16.0.0/13",
	"104.24.0.0/14",
	"172.64.0.0/13",
	"131.0.72.0/22",
	"2400:cb00::/32",
	"2606:4700::/32",
	"2803:f800::/32",
	"2405:b500::/32",
	"2405:8100::/32",
	"2a06:98c0::/29",
	"2c0f:f248::/32",
}

// requestIDRe bounds accepted X-Request-ID values so a hostile header
// cannot inject into logs.
var requestIDRe = regexp.MustCompile(`^[a-zA-Z0-9._\-]{1,128}$`)

// gatewayConfig is the parsed proxy trust set.
type gatewayConfig struct {
	hosts    map[netip.Addr]bool
	networks []netip.Prefix
	trustAll bool
}

// parseTrustedProxies accepts single IPs, CIDRs, the "cloudflare"
// keyword, and "*" (trust every peer; loopback binds only, enforced by
// config validation).
func parseTrustedProxies(raw []string) (*gatewayConfig, error) {
	g := &gatewayConfig{hosts: make(map[netip.Addr]bool)}
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		switch strings.ToLower(entry) {
		case "":
			continue
		case "*":
			g.trustAll = true
			continue
		case "cloudflare":
			for _, cidr := range cloudflareCIDRs {
				p, err := netip.ParsePrefix(cidr)
				if err != nil {
					return nil, fmt.Errorf("cloudflare cidr %s: %w", cidr, err)
				}
				g.networks = append(g.networks, p)
			}
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			g.networks = append(g.networks, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(normalizeIPString(entry))
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		g.hosts[addr] = true
	}
	return g, nil
}

// normalizeIPString strips IPv6 brackets and zone IDs so literal header
// values parse.
func normalizeIPString(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = s[1 : len(s)-1]
	}
	if i := strings.Index(s, "%"); i >= 0 {
		s = s[:i]
	}
	return s
}

func (g *gatewayConfig) isTrusted(addr netip.Addr) bool {
	if g.trustAll {
		return true
	}
	if g.hosts[addr.Unmap()] || g.hosts[addr] {
		return true
	}
	for _, n := range g.networks {
		if n.Contains(addr) || n.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// extractClientIP walks the combined X-Forwarded-For right to left and
// returns the first untrusted hop. All hops trusted means the leftmost
// entry is the client; an unparseable hop is returned as-is rather than
// skipped, so a spoofer cannot walk past it.
func extractClientIP(xff string, g *gatewayConfig, peerIP string) string {
	entries := splitHops(xff)
	if len(entries) == 0 {
		return peerIP
	}
	for i := len(entries) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(normalizeIPString(entries[i]))
		if err != nil {
			return entries[i]
		}
		if !g.isTrusted(addr) {
			return addr.String()
		}
	}
	if addr, err := netip.ParseAddr(normalizeIPString(entries[0])); err == nil {
		return addr.String()
	}
	return entries[0]
}

func splitHops(combined string) []string {
	var out []string
	for _, e := range strings.Split(combined, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// parseForwarded is a minimal RFC 7239 parser returning the for=
// directive of each hop, unquoted, in order.
func parseForwarded(value string) []string {
	var hops []string
	for _, entry := range strings.Split(value, ",") {
		for _, pair := range strings.Split(entry, ";") {
			key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			val = strings.TrimSpace(val)
			val = strings.TrimPrefix(val, `"`)
			val = strings.TrimSuffix(val, `"`)
			if val != "" {
				hops = append(hops, val)
			}
		}
	}
	return hops
}

func sanitizeRequestID(raw string) string {
	if requestIDRe.MatchString(raw) {
		return raw
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// gateway extracts the real client IP behind trusted proxies and
// propagates a sanitized request ID. The extracted IP travels to the
// rate limiter in the X-Client-Id header; the request ID is echoed in
// the response and becomes the telemetry trace id.
func gateway(g *gatewayConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerIP := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			peerIP = host
		}

		clientIP := peerIP
		peerAddr, err := netip.ParseAddr(normalizeIPString(peerIP))
		if err == nil && g.isTrusted(peerAddr) {
			if xff := strings.Join(r.Header.Values("X-Forwarded-For"), ", "); xff != "" {
				clientIP = extractClientIP(xff, g, peerIP)
			} else if fwd := r.Header.Get("Forwarded"); fwd != "" {
				hops := parseForwarded(fwd)
				for i := len(hops) - 1; i >= 0; i-- {
					addr, err := netip.ParseAddr(normalizeIPString(hops[i]))
					if err != nil {
						clientIP = hops[i]
						break
					}
					if !g.isTrusted(addr) {
						clientIP = addr.String()
						break
					}
				}
			}
		}

		requestID := sanitizeRequestID(r.Header.Get("X-Request-Id"))
		w.Header().Set("X-Request-Id", requestID)
		// The peer header never wins over the gateway's own extraction.
		r.Header.Set("X-Client-Id", clientIP)

		next.ServeHTTP(w, r.WithContext(withTraceID(r.Context(), requestID)))
	})
}
