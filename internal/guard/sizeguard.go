// Package guard protects responses on the way out: byte-size clamping with
// UTF-8-safe truncation, screenshot size caps, and OWASP security headers
// on the HTTP surface.
package guard

import (
	"fmt"
	"unicode/utf8"
)

const (
	// DefaultResponseLimit caps serialized tool responses at 1 MiB.
	DefaultResponseLimit = 1 << 20
	// DefaultScreenshotLimit caps screenshot payloads at 8 MiB. Oversized
	// screenshots are rejected outright rather than truncated, since a cut
	// PNG is useless.
	DefaultScreenshotLimit = 8 << 20
)

// SizeGuard clamps textual responses to a byte limit.
type SizeGuard struct {
	Limit int
	// OnExceeded, when set, is invoked with the original size after a
	// truncation. Used for telemetry.
	OnExceeded func(originalBytes int, tool string)
}

// NewSizeGuard returns a guard with the given limit, or the default when
// limit <= 0.
func NewSizeGuard(limit int) *SizeGuard {
	if limit <= 0 {
		limit = DefaultResponseLimit
	}
	return &SizeGuard{Limit: limit}
}

// Clamp passes body through when it fits, otherwise truncates at a UTF-8
// boundary and appends a marker telling the agent how to narrow the call.
func (g *SizeGuard) Clamp(body string, tool string) string {
	if len(body) <= g.Limit {
		return body
	}
	cut := g.Limit
	for cut > 0 && body[cut]&0xC0 == 0x80 {
		cut--
	}
	truncated := body[:cut]
	if !utf8.ValidString(truncated) {
		// Defect in the input rather than the cut; still never emit
		// invalid UTF-8 at the boundary.
		truncated = string([]rune(truncated))
	}
	if g.OnExceeded != nil {
		g.OnExceeded(len(body), tool)
	}
	return truncated + fmt.Sprintf("\n[Truncated: %d bytes; call %s with narrower scope]", len(body), tool)
}

// CheckScreenshot rejects screenshots over the byte limit with a
// user-facing error string.
func CheckScreenshot(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultScreenshotLimit
	}
	if len(data) > limit {
		return fmt.Errorf("screenshot is %d bytes, exceeding the %d byte limit; retry with full_page=false", len(data), limit)
	}
	return nil
}
