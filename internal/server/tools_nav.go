package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/action"
	"github.com/Retio-ai/pagemap/internal/guard"
	"github.com/Retio-ai/pagemap/internal/session"
)

// backPollBudget bounds how long navigate_back waits for the URL to
// actually change; history.back on a same-URL entry never changes it.
const backPollBudget = 5 * time.Second

func (s *Server) toolNavigateBack(ctx context.Context, call *toolCall, _ json.RawMessage) toolResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.NavigateBackTimeout())
	defer cancel()

	sess, err := s.sessions.GetSession(ctx, call.entry)
	if err != nil {
		return s.toolError(call, err)
	}

	out, err := sess.Eval(ctx, "window.history.length")
	if err != nil {
		return s.toolError(call, fmt.Errorf("read history length: %w", err))
	}
	length, _ := strconv.Atoi(string(out))
	if length <= 1 {
		return textResult(mustJSON(map[string]any{
			"description":  "No browser history to go back to.",
			"current_url":  sess.PageURL(),
			"refs_expired": false,
		}))
	}

	before := sess.PageURL()
	if _, err := sess.Eval(ctx, "window.history.back()"); err != nil {
		return s.toolError(call, fmt.Errorf("history back: %w", err))
	}
	deadline := time.Now().Add(backPollBudget)
	for sess.PageURL() == before && ctx.Err() == nil && time.Now().Before(deadline) {
		settleWait(ctx, 100*time.Millisecond)
	}
	current := sess.PageURL()

	if err := s.revalidateFinalURL(ctx, call.entry, sess); err != nil {
		return s.toolError(call, err)
	}

	call.entry.Cache.Invalidate(session.InvalidateNavigation)
	s.logger.Info("navigate_back",
		zap.String("from", before), zap.String("to", current))
	return textResult(mustJSON(map[string]any{
		"description":  fmt.Sprintf("Navigated back to %s", current),
		"current_url":  current,
		"refs_expired": true,
		"suggestion":   "Call get_page_map to rebuild refs for this page.",
	}))
}

type screenshotArgs struct {
	FullPage bool `json:"full_page"`
}

func (s *Server) toolTakeScreenshot(ctx context.Context, call *toolCall, raw json.RawMessage) toolResult {
	var args screenshotArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return s.toolError(call, action.NewInputError("invalid arguments: %v", err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ScreenshotTimeout())
	defer cancel()

	sess, err := s.sessions.GetSession(ctx, call.entry)
	if err != nil {
		return s.toolError(call, err)
	}
	data, err := sess.Screenshot(ctx, args.FullPage)
	if err != nil {
		return s.toolError(call, fmt.Errorf("screenshot: %w", err))
	}
	if err := guard.CheckScreenshot(data, s.cfg.MaxScreenshotBytes); err != nil {
		return s.toolError(call, err)
	}

	scope := "viewport"
	if args.FullPage {
		scope = "full page"
	}
	s.logger.Info("take_screenshot",
		zap.String("scope", scope), zap.Int("bytes", len(data)))
	return toolResult{Content: []contentItem{
		{Type: "image", Data: base64.StdEncoding.EncodeToString(data), MimeType: "image/png"},
		{Type: "text", Text: fmt.Sprintf("Screenshot captured (%s, %d bytes) of %s", scope, len(data), sess.PageURL())},
	}}
}

func (s *Server) toolGetPageState(ctx context.Context, call *toolCall, _ json.RawMessage) toolResult {
	sess, err := s.sessions.GetSession(ctx, call.entry)
	if err != nil {
		return s.toolError(call, err)
	}
	title, err := sess.PageTitle()
	if err != nil {
		title = ""
	}

	state := map[string]any{
		"url":                    sess.PageURL(),
		"title":                  title,
		"has_page_map":           false,
		"page_map_interactables": 0,
	}
	if entry := call.entry.Cache.ActiveEntry(); entry != nil && entry.PageMap != nil {
		state["has_page_map"] = true
		state["page_map_interactables"] = len(entry.PageMap.Interactables)
		state["page_type"] = entry.PageMap.PageType
		state["cache_generation"] = entry.GenerationID
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return s.toolError(call, err)
	}
	return textResult(string(b))
}
