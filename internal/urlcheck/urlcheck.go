// Package urlcheck gates every navigation against SSRF. It rejects
// non-http(s) schemes, canonical metadata hostnames, and IPs in private or
// cloud-metadata ranges, normalizing the exotic representations attackers
// use to dodge naive string checks (decimal, hex, octal, IPv4-mapped IPv6).
package urlcheck

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/Retio-ai/pagemap/internal/pagemaperr"
)

// Hostnames rejected outright, before any IP parsing.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
}

var privateNets = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
)

// Metadata ranges are rejected regardless of AllowLocal. 169.254.0.0/16
// covers the cloud metadata endpoint; fe80::/10 is its IPv6 analogue.
var metadataNets = mustPrefixes(
	"169.254.0.0/16",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// Validator validates navigation targets. AllowLocal permits private and
// loopback ranges (for development against local servers); cloud-metadata
// ranges stay blocked no matter what.
type Validator struct {
	AllowLocal bool

	// lookup is swappable in tests to prove no DNS happens on IP paths.
	lookup func(ctx context.Context, host string) ([]netip.Addr, error)
}

// New returns a Validator using the default system resolver for DNS
// post-checks.
func New(allowLocal bool) *Validator {
	var r net.Resolver
	return &Validator{
		AllowLocal: allowLocal,
		lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return r.LookupNetIP(ctx, "ip", host)
		},
	}
}

// Validate checks a raw URL against scheme, hostname, and IP policy.
// It performs no network I/O. A nil return means the URL may be fetched.
func (v *Validator) Validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &pagemaperr.SSRFError{URL: raw, Reason: "URL could not be parsed"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &pagemaperr.SSRFError{URL: raw, Reason: fmt.Sprintf("scheme %q not allowed (use http or https)", u.Scheme)}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return &pagemaperr.SSRFError{URL: raw, Reason: "URL has no hostname"}
	}
	if blockedHosts[host] || strings.HasSuffix(host, ".local") {
		return &pagemaperr.SSRFError{URL: raw, Reason: fmt.Sprintf("host %q is blocked", host)}
	}
	if addr, ok := normalizeIP(host); ok {
		if reason := v.classify(addr); reason != "" {
			return &pagemaperr.SSRFError{URL: raw, Reason: reason}
		}
	}
	return nil
}

// ValidateWithDNS runs Validate and then resolves the hostname, applying
// the same IP policy to every returned address. Any disallowed address
// rejects the URL.
func (v *Validator) ValidateWithDNS(ctx context.Context, raw string) error {
	if err := v.Validate(raw); err != nil {
		return err
	}
	u, _ := url.Parse(raw)
	host := strings.ToLower(u.Hostname())
	if _, ok := normalizeIP(host); ok {
		return nil // literal IP already classified, nothing to resolve
	}
	addrs, err := v.lookup(ctx, host)
	if err != nil {
		return &pagemaperr.SSRFError{URL: raw, Reason: fmt.Sprintf("DNS resolution failed for %q", host)}
	}
	for _, addr := range addrs {
		if reason := v.classify(addr); reason != "" {
			return &pagemaperr.SSRFError{URL: raw, Reason: fmt.Sprintf("%s (resolved from %q)", reason, host)}
		}
	}
	return nil
}

// classify returns a rejection reason for a canonical address, or "".
func (v *Validator) classify(addr netip.Addr) string {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	for _, p := range metadataNets {
		if p.Contains(addr) {
			return fmt.Sprintf("IP %s is in a cloud metadata range", addr)
		}
	}
	if v.AllowLocal {
		return ""
	}
	for _, p := range privateNets {
		if p.Contains(addr) {
			return fmt.Sprintf("IP %s is in a private or loopback range", addr)
		}
	}
	return ""
}

// normalizeIP parses the many ways an IPv4/IPv6 address can be written.
// Supported beyond the canonical forms: single decimal integer
// ("2130706433"), single hex ("0x7f000001"), dotted octal with leading
// zeros ("0177.0.0.1"), and IPv4-mapped IPv6. Pure arithmetic, no DNS.
func normalizeIP(host string) (netip.Addr, bool) {
	host = strings.Trim(host, "[]")

	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, true
	}

	// Single decimal integer form.
	if n, err := strconv.ParseUint(host, 10, 64); err == nil && n <= 0xFFFFFFFF {
		return netip.AddrFrom4(u32to4(uint32(n))), true
	}

	// Single hex form.
	if rest, ok := strings.CutPrefix(strings.ToLower(host), "0x"); ok {
		if n, err := strconv.ParseUint(rest, 16, 64); err == nil && n <= 0xFFFFFFFF {
			return netip.AddrFrom4(u32to4(uint32(n))), true
		}
	}

	// Dotted form with octal (leading-zero) octets.
	if addr, ok := parseDottedOctal(host); ok {
		return addr, true
	}

	return netip.Addr{}, false
}

// parseDottedOctal handles "0177.0.0.1" style addresses. Strict: exactly
// four components, each either plain decimal or, when it starts with "0",
// containing only octal digits, and every value <= 255. Anything else is
// not an IP and falls through to hostname handling.
func parseDottedOctal(host string) (netip.Addr, bool) {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return netip.Addr{}, false
	}
	var b [4]byte
	sawOctal := false
	for i, part := range parts {
		if part == "" {
			return netip.Addr{}, false
		}
		base := 10
		if len(part) > 1 && part[0] == '0' {
			base = 8
			sawOctal = true
		}
		n, err := strconv.ParseUint(part, base, 16)
		if err != nil || n > 255 {
			return netip.Addr{}, false
		}
		b[i] = byte(n)
	}
	if !sawOctal {
		return netip.Addr{}, false // plain dotted decimal handled by ParseAddr
	}
	return netip.AddrFrom4(b), true
}

func u32to4(n uint32) [4]byte {
	return [4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}
