package sanitize

import (
	"regexp"
	"strings"
)

// apiKeyRe matches this system's API-key family: sk-pm-v<version>- plus 43
// base64url characters of entropy.
var apiKeyRe = regexp.MustCompile(`sk-pm-v\d+-[A-Za-z0-9_-]{43}`)

var bearerValueRe = regexp.MustCompile(`(?i)Bearer\s+\S+`)

// ScrubText replaces any embedded API key with a redaction marker. Safe to
// call on arbitrary user-visible strings (errors, logs, page content).
func ScrubText(s string) string {
	if s == "" {
		return s
	}
	return apiKeyRe.ReplaceAllString(s, "sk-pm-***")
}

// ContainsKey reports whether s carries an API key, for callers that want
// to emit telemetry before scrubbing.
func ContainsKey(s string) bool {
	return apiKeyRe.MatchString(s)
}

// ScrubHeaders masks Authorization credentials and embedded API keys in a
// header map, returning a scrubbed copy. The input is not modified.
func ScrubHeaders(headers map[string][]string) map[string][]string {
	if headers == nil {
		return nil
	}
	out := make(map[string][]string, len(headers))
	for name, values := range headers {
		scrubbed := make([]string, len(values))
		for i, v := range values {
			if strings.EqualFold(name, "Authorization") {
				v = bearerValueRe.ReplaceAllString(v, "Bearer ***")
			}
			scrubbed[i] = ScrubText(v)
		}
		out[name] = scrubbed
	}
	return out
}
