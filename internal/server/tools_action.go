package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/action"
	"github.com/Retio-ai/pagemap/internal/session"
	"github.com/Retio-ai/pagemap/internal/telemetry"
)

type executeActionArgs struct {
	Ref    int     `json:"ref"`
	Action string  `json:"action"`
	Value  *string `json:"value"`
}

func (s *Server) toolExecuteAction(ctx context.Context, call *toolCall, raw json.RawMessage) toolResult {
	args := executeActionArgs{Action: action.ActionClick}
	if err := json.Unmarshal(raw, &args); err != nil {
		return s.toolError(call, action.NewInputError("invalid arguments: %v", err))
	}
	if args.Action == "" {
		args.Action = action.ActionClick
	}

	sess, err := s.sessions.GetSession(ctx, call.entry)
	if err != nil {
		return s.toolError(call, err)
	}
	res, err := s.executor.Execute(ctx, sess, call.entry.Cache, action.Request{
		Ref:    args.Ref,
		Action: args.Action,
		Value:  args.Value,
	})
	if err != nil {
		return s.toolError(call, err)
	}
	return textResult(mustJSON(res))
}

type fillFormArgs struct {
	Fields    []action.FormField `json:"fields"`
	SubmitRef *int               `json:"submit_ref"`
}

func (s *Server) toolFillForm(ctx context.Context, call *toolCall, raw json.RawMessage) toolResult {
	var args fillFormArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return s.toolError(call, action.NewInputError("invalid arguments: %v", err))
	}

	sess, err := s.sessions.GetSession(ctx, call.entry)
	if err != nil {
		return s.toolError(call, err)
	}
	res, err := s.executor.FillForm(ctx, sess, call.entry.Cache, action.FillFormRequest{
		Fields:    args.Fields,
		SubmitRef: args.SubmitRef,
	})
	if err != nil {
		return s.toolError(call, err)
	}
	return textResult(mustJSON(res))
}

// scrollJS performs the scroll op injected at %s and reports resulting
// scroll metrics.
const scrollJS = `(() => {
	const doc = document.documentElement;
	const before = window.scrollY;
	%s
	const max = Math.max(0, doc.scrollHeight - window.innerHeight);
	const y = window.scrollY;
	return {
		pixels: Math.round(y - before),
		scroll_percent: max > 0 ? Math.min(100, Math.round((y / max) * 100)) : 100,
	};
})()`

// defaultScrollExpr scrolls by most of a viewport, keeping some overlap
// for reading continuity.
const defaultScrollExpr = "Math.round(window.innerHeight * 0.8)"

type scrollArgs struct {
	Direction string `json:"direction"`
	Amount    int    `json:"amount"`
}

type scrollMetrics struct {
	Pixels        int `json:"pixels"`
	ScrollPercent int `json:"scroll_percent"`
}

func (s *Server) toolScrollPage(ctx context.Context, call *toolCall, raw json.RawMessage) toolResult {
	var args scrollArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return s.toolError(call, action.NewInputError("invalid arguments: %v", err))
	}

	amountExpr := defaultScrollExpr
	if args.Amount > 0 {
		amountExpr = strconv.Itoa(args.Amount)
	}
	var op string
	switch args.Direction {
	case "down":
		op = fmt.Sprintf("window.scrollBy(0, %s);", amountExpr)
	case "up":
		op = fmt.Sprintf("window.scrollBy(0, -(%s));", amountExpr)
	case "top":
		op = "window.scrollTo(0, 0);"
	case "bottom":
		op = "window.scrollTo(0, doc.scrollHeight);"
	default:
		return s.toolError(call, action.NewInputError(
			"Invalid direction '%s'. Allowed: down, up, top, bottom", args.Direction))
	}

	sess, err := s.sessions.GetSession(ctx, call.entry)
	if err != nil {
		return s.toolError(call, err)
	}
	out, err := sess.Eval(ctx, fmt.Sprintf(scrollJS, op))
	if err != nil {
		return s.toolError(call, fmt.Errorf("scroll %s: %w", args.Direction, err))
	}
	var m scrollMetrics
	if err := json.Unmarshal(out, &m); err != nil {
		return s.toolError(call, fmt.Errorf("parse scroll metrics: %w", err))
	}

	// Give lazy-loaded content a moment before the agent rebuilds.
	settleWait(ctx, 500*time.Millisecond)

	s.emit(call, telemetry.Scroll{Direction: args.Direction, Pixels: m.Pixels, ScrollPercent: m.ScrollPercent})
	call.entry.Cache.Invalidate(session.InvalidateScroll)

	var desc string
	switch args.Direction {
	case "top":
		desc = "Scrolled to top"
	case "bottom":
		desc = "Scrolled to bottom"
	default:
		px := m.Pixels
		if px < 0 {
			px = -px
		}
		desc = fmt.Sprintf("Scrolled %s %dpx", args.Direction, px)
	}
	desc = fmt.Sprintf("%s (now at %d%% of page)", desc, m.ScrollPercent)

	s.logger.Info("scroll_page",
		zap.String("direction", args.Direction),
		zap.Int("scroll_percent", m.ScrollPercent))
	return textResult(mustJSON(map[string]any{
		"description":    desc,
		"scroll_percent": m.ScrollPercent,
		"refs_expired":   true,
		"suggestion":     "Call get_page_map to see the newly visible content.",
	}))
}

// wait_for bounds: default when timeout_seconds is absent, hard cap
// regardless of the argument.
const (
	defaultWaitTimeout = 10 * time.Second
	maxWaitTimeout     = 30 * time.Second
	waitPollInterval   = 250 * time.Millisecond
	networkIdleQuiet   = 500 * time.Millisecond
)

type waitForArgs struct {
	Selector       string  `json:"selector"`
	Text           string  `json:"text"`
	NetworkIdle    bool    `json:"network_idle"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

func (s *Server) toolWaitFor(ctx context.Context, call *toolCall, raw json.RawMessage) toolResult {
	var args waitForArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return s.toolError(call, action.NewInputError("invalid arguments: %v", err))
	}

	modes := 0
	mode := ""
	if args.Selector != "" {
		modes++
		mode = "selector"
	}
	if args.Text != "" {
		modes++
		mode = "text"
	}
	if args.NetworkIdle {
		modes++
		mode = "network_idle"
	}
	if modes != 1 {
		return s.toolError(call, action.NewInputError(
			"Provide exactly one of 'selector', 'text', or 'network_idle'."))
	}

	timeout := defaultWaitTimeout
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds * float64(time.Second))
	}
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}

	sess, err := s.sessions.GetSession(ctx, call.entry)
	if err != nil {
		return s.toolError(call, err)
	}

	start := time.Now()
	var success bool
	switch mode {
	case "network_idle":
		success = sess.WaitNetworkIdle(ctx, networkIdleQuiet, timeout) == nil
	default:
		var probe string
		if mode == "selector" {
			probe = fmt.Sprintf("!!document.querySelector(%s)", jsonLiteral(args.Selector))
		} else {
			probe = fmt.Sprintf("!!(document.body && document.body.innerText.includes(%s))", jsonLiteral(args.Text))
		}
		success = s.pollUntil(ctx, sess, probe, timeout)
	}
	elapsed := time.Since(start)

	s.emit(call, telemetry.WaitForResult{Elapsed: elapsed.Seconds(), Success: success, Mode: mode})
	s.logger.Info("wait_for",
		zap.String("mode", mode),
		zap.Bool("success", success),
		zap.Duration("elapsed", elapsed))

	body := map[string]any{
		"success":         success,
		"mode":            mode,
		"elapsed_seconds": float64(elapsed.Milliseconds()) / 1000,
	}
	if success {
		// The condition appearing means the DOM moved under the map.
		call.entry.Cache.Invalidate(session.InvalidateWaitFor)
		body["refs_expired"] = true
	} else {
		body["error"] = fmt.Sprintf("Timed out after %.0fs waiting for %s.", timeout.Seconds(), mode)
	}
	return textResult(mustJSON(body))
}

// pollUntil evaluates probe every poll interval until it yields true or
// the timeout passes. Evaluation errors count as false so a page that
// is mid-navigation keeps being polled.
func (s *Server) pollUntil(ctx context.Context, sess sessionEvaler, probe string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		out, err := sess.Eval(ctx, probe)
		if err == nil && string(out) == "true" {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		settleWait(ctx, waitPollInterval)
	}
}

type sessionEvaler interface {
	Eval(ctx context.Context, js string) (json.RawMessage, error)
}

// jsonLiteral renders s as a JS string literal.
func jsonLiteral(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// settleWait sleeps unless the context ends first.
func settleWait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
