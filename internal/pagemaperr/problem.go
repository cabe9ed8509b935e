package pagemaperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ErrorBase is the RFC 9457 type URI namespace for PageMap errors.
const ErrorBase = "https://www.retio.ai/pagemap/errors"

// MaxDetailLength caps the sanitized detail string.
const MaxDetailLength = 200

// ProblemType enumerates the PageMap error taxonomy slugs.
type ProblemType string

const (
	ProblemSSRFBlocked        ProblemType = "ssrf-blocked"
	ProblemRobotsBlocked      ProblemType = "robots-blocked"
	ProblemRateLimitExceeded  ProblemType = "rate-limit-exceeded"
	ProblemTLSRequired        ProblemType = "tls-required"
	ProblemBrowserUnavailable ProblemType = "browser-unavailable"
	ProblemPageTimeout        ProblemType = "page-timeout"
	ProblemServerBusy         ProblemType = "server-busy"
	ProblemRefNotFound        ProblemType = "ref-not-found"
	ProblemInvalidAction      ProblemType = "invalid-action"
	ProblemActionTimeout      ProblemType = "action-timeout"
	ProblemActionFailed       ProblemType = "action-failed"
	ProblemResourceExhausted  ProblemType = "resource-exhausted"
	ProblemInvalidRequest     ProblemType = "invalid-request"
	ProblemInternal           ProblemType = "internal-error"
)

// URI returns the full type URI for the slug.
func (p ProblemType) URI() string { return ErrorBase + "/" + string(p) }

// ProblemDetail is an RFC 9457 problem details object.
type ProblemDetail struct {
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Status     int     `json:"status"`
	Detail     string  `json:"detail,omitempty"`
	Instance   string  `json:"instance,omitempty"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

// JSON renders the problem as an application/problem+json body.
func (p ProblemDetail) JSON() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		return []byte(`{"type":"` + ProblemInternal.URI() + `","title":"Internal Error","status":500}`)
	}
	return b
}

var (
	apiKeyRe = regexp.MustCompile(`sk-pm-v\d+-[A-Za-z0-9_-]{43}`)
	skStubRe = regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`)
	bearerRe = regexp.MustCompile(`(?i)bearer\s+\S+`)
	envKeyRe = regexp.MustCompile(`\b[A-Z][A-Z0-9_]*(?:KEY|TOKEN|SECRET|PASSWORD)[A-Z0-9_]*=\S+`)
	pathRe   = regexp.MustCompile(`(?:/[\w.\-]+){2,}|[A-Za-z]:\\[\w.\\\-]+`)
)

// SanitizeDetail scrubs secrets and filesystem paths from an error message
// and caps it at MaxDetailLength.
func SanitizeDetail(msg string) string {
	msg = apiKeyRe.ReplaceAllString(msg, "sk-pm-***")
	msg = skStubRe.ReplaceAllString(msg, "sk-***")
	msg = bearerRe.ReplaceAllString(msg, "Bearer ***")
	msg = envKeyRe.ReplaceAllString(msg, "***")
	msg = pathRe.ReplaceAllString(msg, "<path>")
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > MaxDetailLength {
		msg = msg[:MaxDetailLength]
	}
	return msg
}

// recoveryHints maps tool names to appended guidance for error messages.
var recoveryHints = map[string]string{
	"get_page_map":       "Retry, or try the URL in a regular browser to confirm it loads.",
	"execute_action":     "Call get_page_map to refresh refs, then retry the action.",
	"navigate_back":      "Call get_page_map to rebuild the map for the current page.",
	"take_screenshot":    "Retry; if it persists the page may be too large to capture.",
	"batch_get_page_map": "Retry with fewer URLs or lower concurrency.",
	"scroll_page":        "Call get_page_map to confirm the page is still loaded.",
	"wait_for":           "Increase the timeout or wait for a more specific condition.",
	"fill_form":          "Call get_page_map to refresh refs, then retry with valid refs.",
	"get_page_state":     "Call get_page_map to build a fresh map.",
}

// RecoveryHint returns per-tool guidance, or an empty string for unknown
// tools.
func RecoveryHint(tool string) string { return recoveryHints[tool] }

// FromError maps an error to a ProblemDetail, sanitizing the detail text
// and appending the tool recovery hint where one exists.
func FromError(err error, tool string) ProblemDetail {
	var (
		ssrf   *SSRFError
		robots *RobotsBlockedError
		rl     *RateLimitError
		rex    *ResourceExhaustionError
		dead   *BrowserDeadError
		st     *StageTimeoutError
	)
	var p ProblemDetail
	switch {
	case errors.As(err, &ssrf):
		p = ProblemDetail{Type: ProblemSSRFBlocked.URI(), Title: "URL Blocked", Status: 403, Detail: ssrf.Reason}
	case errors.As(err, &robots):
		p = ProblemDetail{Type: ProblemRobotsBlocked.URI(), Title: "Robots Disallowed", Status: 403, Detail: err.Error()}
	case errors.As(err, &rl):
		p = ProblemDetail{
			Type: ProblemRateLimitExceeded.URI(), Title: "Rate Limit Exceeded", Status: 429,
			Detail: err.Error(), RetryAfter: math.Ceil(rl.RetryAfter.Seconds()),
		}
	case errors.As(err, &rex):
		p = ProblemDetail{Type: ProblemResourceExhausted.URI(), Title: "Resource Exhausted", Status: 507, Detail: err.Error()}
	case errors.As(err, &dead):
		p = ProblemDetail{Type: ProblemBrowserUnavailable.URI(), Title: "Browser Unavailable", Status: 503, Detail: "Browser connection lost"}
	case errors.As(err, &st):
		p = ProblemDetail{Type: ProblemPageTimeout.URI(), Title: "Timeout", Status: 504, Detail: err.Error()}
	case errors.Is(err, ErrToolBusy):
		p = ProblemDetail{Type: ProblemServerBusy.URI(), Title: "Server Busy", Status: 503, Detail: err.Error()}
	default:
		p = ProblemDetail{Type: ProblemInternal.URI(), Title: "Internal Error", Status: 500, Detail: err.Error()}
	}
	p.Detail = SanitizeDetail(p.Detail)
	if hint := RecoveryHint(tool); hint != "" {
		p.Detail = strings.TrimSpace(fmt.Sprintf("%s %s", p.Detail, hint))
		if len(p.Detail) > MaxDetailLength+len(hint)+1 {
			p.Detail = p.Detail[:MaxDetailLength+len(hint)+1]
		}
	}
	return p
}
