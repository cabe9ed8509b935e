// Package pagemaperr defines the PageMap error taxonomy and its mapping to
// RFC 9457 problem details. It is a near-leaf package so any layer can
// import it without cycles.
package pagemaperr

import (
	"errors"
	"fmt"
	"time"
)

// SSRFError reports a URL blocked by the SSRF validator.
type SSRFError struct {
	URL    string
	Reason string
}

func (e *SSRFError) Error() string {
	return fmt.Sprintf("URL blocked: %s", e.Reason)
}

// RobotsBlockedError reports a navigation disallowed by robots.txt.
type RobotsBlockedError struct {
	URL       string
	UserAgent string
}

func (e *RobotsBlockedError) Error() string {
	return fmt.Sprintf("robots.txt disallows fetching %s; navigate elsewhere", e.URL)
}

// RateLimitError carries limiter state for the 429 response.
type RateLimitError struct {
	RetryAfter time.Duration
	Limit      int
	Remaining  int
	Scope      string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %.0fs", e.Scope, e.RetryAfter.Seconds())
}

// ResourceExhaustionError reports a per-session resource cap (tabs, DOM
// size) being hit. It surfaces as a problem response, never a crash.
type ResourceExhaustionError struct {
	Resource string
	Limit    int
}

func (e *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("%s limit reached (%d)", e.Resource, e.Limit)
}

// BrowserDeadError indicates the browser process or page is gone. The
// session manager handles the first occurrence by recycling; a second
// occurrence surfaces to the caller.
type BrowserDeadError struct {
	Cause error
}

func (e *BrowserDeadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("browser connection lost: %v", e.Cause)
	}
	return "browser connection lost"
}

func (e *BrowserDeadError) Unwrap() error { return e.Cause }

// StageTimeoutError names the pipeline stage that was running when a
// tool-level deadline expired.
type StageTimeoutError struct {
	Tool  string
	Stage string
	After time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s during %s", e.Tool, e.After, e.Stage)
}

// ErrToolBusy is returned when the per-session tool lock cannot be
// acquired within the tool lock timeout.
var ErrToolBusy = errors.New("another tool call is in progress, retry in a moment")

// ErrNoActivePageMap is returned by action tools when no page map has been
// built for the session yet (or the previous one was invalidated).
var ErrNoActivePageMap = errors.New("No active Page Map. Call get_page_map first.")

// IsBrowserDead reports whether err is (or wraps) a dead-browser condition.
func IsBrowserDead(err error) bool {
	var bd *BrowserDeadError
	return errors.As(err, &bd)
}
