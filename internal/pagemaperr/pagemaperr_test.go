package pagemaperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeDetailScrubsSecrets(t *testing.T) {
	fullKey := "sk-pm-v1-" + strings.Repeat("a", 43)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"api key", "auth failed for " + fullKey, "auth failed for sk-pm-***"},
		{"generic sk stub", "token sk-abcdefgh1234 rejected", "token sk-*** rejected"},
		{"bearer header", "got header Bearer eyJhbGciOi.payload", "got header Bearer ***"},
		{"bearer lowercase", "got bearer xyz", "got Bearer ***"},
		{"env assignment", "read API_KEY=supersecret from env", "read *** from env"},
		{"unix path", "open /home/dev/pagemap/config.yaml failed", "open <path> failed"},
		{"windows path", `open C:\Users\dev failed`, "open <path> failed"},
		{"single segment survives", "mount /tmp failed", "mount /tmp failed"},
		{"whitespace collapsed", "a  b\n\tc", "a b c"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeDetail(tc.in), tc.name)
	}
}

func TestSanitizeDetailCapsLength(t *testing.T) {
	got := SanitizeDetail(strings.Repeat("x", 500))
	assert.Len(t, got, MaxDetailLength)
}

func TestFromErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		slug   ProblemType
		status int
		detail string
	}{
		{
			"ssrf", &SSRFError{URL: "http://169.254.169.254/", Reason: "private address"},
			ProblemSSRFBlocked, 403, "private address",
		},
		{
			"robots", &RobotsBlockedError{URL: "https://shop.example.com/admin"},
			ProblemRobotsBlocked, 403, "robots.txt disallows",
		},
		{
			"resource exhausted", &ResourceExhaustionError{Resource: "tabs", Limit: 10},
			ProblemResourceExhausted, 507, "tabs limit reached (10)",
		},
		{
			"browser dead", &BrowserDeadError{Cause: errors.New("ws closed")},
			ProblemBrowserUnavailable, 503, "Browser connection lost",
		},
		{
			"stage timeout", &StageTimeoutError{Tool: "get_page_map", Stage: "pruning", After: 12 * time.Second},
			ProblemPageTimeout, 504, "during pruning",
		},
		{"tool busy", ErrToolBusy, ProblemServerBusy, 503, "another tool call"},
		{"unknown", errors.New("boom"), ProblemInternal, 500, "boom"},
		{"wrapped", fmt.Errorf("outer: %w", ErrToolBusy), ProblemServerBusy, 503, "another tool call"},
	}
	for _, tc := range tests {
		p := FromError(tc.err, "")
		assert.Equal(t, tc.slug.URI(), p.Type, tc.name)
		assert.Equal(t, tc.status, p.Status, tc.name)
		assert.Contains(t, p.Detail, tc.detail, tc.name)
	}
}

func TestFromErrorRateLimitCarriesRetryAfter(t *testing.T) {
	p := FromError(&RateLimitError{RetryAfter: 1500 * time.Millisecond, Scope: "client"}, "")
	assert.Equal(t, ProblemRateLimitExceeded.URI(), p.Type)
	assert.Equal(t, 429, p.Status)
	assert.Equal(t, 2.0, p.RetryAfter)
}

func TestFromErrorAppendsRecoveryHint(t *testing.T) {
	p := FromError(errors.New("element detached"), "execute_action")
	assert.Contains(t, p.Detail, "element detached")
	assert.Contains(t, p.Detail, "Call get_page_map to refresh refs")

	assert.Empty(t, RecoveryHint("no_such_tool"))
}

func TestFromErrorSanitizesDetail(t *testing.T) {
	p := FromError(errors.New("navigate /home/dev/pagemap/session failed"), "")
	assert.Contains(t, p.Detail, "<path>")
	assert.NotContains(t, p.Detail, "/home/dev")
}

func TestProblemDetailJSON(t *testing.T) {
	body := ProblemDetail{
		Type:   ProblemSSRFBlocked.URI(),
		Title:  "URL Blocked",
		Status: 403,
		Detail: "private address",
	}.JSON()

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "https://www.retio.ai/pagemap/errors/ssrf-blocked", got["type"])
	assert.Equal(t, float64(403), got["status"])
	assert.NotContains(t, got, "retry_after")
}

func TestIsBrowserDeadSeesWrappedCause(t *testing.T) {
	err := fmt.Errorf("tool failed: %w", &BrowserDeadError{})
	assert.True(t, IsBrowserDead(err))
	assert.False(t, IsBrowserDead(errors.New("other")))
}
