package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Retio-ai/pagemap/internal/config"
	"github.com/Retio-ai/pagemap/internal/telemetry"
)

// Documentation-range IPs: literal addresses skip the DNS post-check,
// so no test resolves anything.
const (
	productURL = "http://203.0.113.10/item/4711"
	homeURL    = "http://203.0.113.10/home"
)

func countEvents(names []string, want string) int {
	n := 0
	for _, name := range names {
		if name == want {
			n++
		}
	}
	return n
}

func decodeJSON(t *testing.T, text string, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(text), into), "not JSON: %s", text)
}

func TestGetPageMapBuildsAndCaches(t *testing.T) {
	ts := newTestServer(t, nil)

	first, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr, first)
	assert.Contains(t, first, "URL: "+productURL)
	assert.Contains(t, first, "오버핏 레더 자켓")
	assert.Contains(t, first, "장바구니 담기")
	assert.Contains(t, first, "## Actions")

	// Same URL, unchanged fingerprint: served from the active slot.
	second, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr, second)
	assert.Equal(t, first, second)

	names := ts.events()
	assert.Equal(t, 2, countEvents(names, telemetry.EventNavigationStart))
	assert.Equal(t, 1, countEvents(names, telemetry.EventFullBuild))
	assert.Equal(t, 1, countEvents(names, telemetry.EventCacheHit))
	assert.Equal(t, 1, countEvents(names, telemetry.EventPipelineCompleted))
	assert.Equal(t, 1, countEvents(names, telemetry.EventPrunedContextComplete))

	sess := ts.pool.sessions["test-session"]
	require.NotNil(t, sess)
	assert.Equal(t, []string{productURL, productURL}, sess.Navigations)
}

func TestGetPageMapRebuildsCurrentPage(t *testing.T) {
	ts := newTestServer(t, nil)

	_, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr)

	// No URL: rebuild in place, bypassing the cache.
	text, isErr := ts.callTool(t, "get_page_map", nil)
	require.False(t, isErr, text)
	assert.Contains(t, text, "URL: "+productURL)

	names := ts.events()
	assert.Equal(t, 2, countEvents(names, telemetry.EventFullBuild))
	assert.Zero(t, countEvents(names, telemetry.EventCacheHit))

	// The rebuild must not navigate again.
	sess := ts.pool.sessions["test-session"]
	assert.Equal(t, []string{productURL}, sess.Navigations)
}

func TestGetPageMapRobotsBlocked(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.robots = fakeRobots{allow: false}

	text, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.True(t, isErr)

	var problem map[string]any
	decodeJSON(t, text, &problem)
	assert.Equal(t, "Robots Disallowed", problem["title"])
	assert.Contains(t, problem["error"], "robots.txt disallows")

	assert.Empty(t, ts.pool.acquired, "blocked URL must not reach the browser")
}

func TestGetPageMapRobotsIgnored(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.IgnoreRobots = true })
	ts.robots = fakeRobots{allow: false}

	text, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr, text)
	assert.Contains(t, text, "장바구니 담기")
}

func TestGetPageMapBlocksMetadataIP(t *testing.T) {
	ts := newTestServer(t, nil)

	text, isErr := ts.callTool(t, "get_page_map",
		map[string]any{"url": "http://169.254.169.254/latest/meta-data/"})
	require.True(t, isErr)

	var problem map[string]any
	decodeJSON(t, text, &problem)
	assert.Equal(t, "URL Blocked", problem["title"])
	assert.Contains(t, problem["error"], "metadata range")

	assert.Empty(t, ts.pool.acquired, "blocked URL must not reach the browser")
}

func TestExecuteActionTypesIntoRef(t *testing.T) {
	ts := newTestServer(t, nil)
	_, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr)

	text, isErr := ts.callTool(t, "execute_action",
		map[string]any{"ref": 2, "action": "type", "value": "오버핏 셔츠"})
	require.False(t, isErr, text)

	var res struct {
		Description string `json:"description"`
		CurrentURL  string `json:"current_url"`
		Change      string `json:"change"`
	}
	decodeJSON(t, text, &res)
	assert.Contains(t, res.Description, "Typed into [2]")
	assert.Equal(t, productURL, res.CurrentURL)
	assert.Equal(t, "none", res.Change)

	sess := ts.pool.sessions["test-session"]
	require.Len(t, sess.Typed, 1)
	assert.Equal(t, "오버핏 셔츠", sess.Typed[0][1])
}

func TestExecuteActionWithoutMap(t *testing.T) {
	ts := newTestServer(t, nil)

	text, isErr := ts.callTool(t, "execute_action", map[string]any{"ref": 1})
	require.True(t, isErr)

	var payload map[string]string
	decodeJSON(t, text, &payload)
	assert.Equal(t, "No active Page Map. Call get_page_map first.", payload["error"])
}

func TestExecuteActionUnknownRef(t *testing.T) {
	ts := newTestServer(t, nil)
	_, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr)

	text, isErr := ts.callTool(t, "execute_action",
		map[string]any{"ref": 99, "action": "type", "value": "x"})
	require.True(t, isErr)

	var payload map[string]string
	decodeJSON(t, text, &payload)
	assert.Contains(t, payload["error"], "ref [99] not found")
}

func TestFillFormFillsFields(t *testing.T) {
	ts := newTestServer(t, nil)
	_, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr)

	text, isErr := ts.callTool(t, "fill_form", map[string]any{
		"fields": []map[string]any{{"ref": 2, "value": "레더 자켓"}},
	})
	require.False(t, isErr, text)

	var res struct {
		Fields []struct {
			Ref    int    `json:"ref"`
			Status string `json:"status"`
		} `json:"fields"`
		Submitted   bool   `json:"submitted"`
		Description string `json:"description"`
		RefsExpired bool   `json:"refs_expired"`
	}
	decodeJSON(t, text, &res)
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "filled", res.Fields[0].Status)
	assert.False(t, res.Submitted)
	assert.Equal(t, "Filled 1 of 1 fields", res.Description)
	assert.True(t, res.RefsExpired)

	sess := ts.pool.sessions["test-session"]
	require.Len(t, sess.Typed, 1)
	assert.Equal(t, "레더 자켓", sess.Typed[0][1])
}

func TestFillFormRequiresFields(t *testing.T) {
	ts := newTestServer(t, nil)
	_, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr)

	text, isErr := ts.callTool(t, "fill_form", map[string]any{"fields": []any{}})
	require.True(t, isErr)

	var payload map[string]string
	decodeJSON(t, text, &payload)
	assert.Equal(t, "Error: 'fields' must be a non-empty array of {ref, value} objects.", payload["error"])
}

func TestScrollPage(t *testing.T) {
	ts := newTestServer(t, nil)
	_, isErr := ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr)

	text, isErr := ts.callTool(t, "scroll_page", map[string]any{"direction": "down"})
	require.False(t, isErr, text)

	var res struct {
		Description   string `json:"description"`
		ScrollPercent int    `json:"scroll_percent"`
		RefsExpired   bool   `json:"refs_expired"`
		Suggestion    string `json:"suggestion"`
	}
	decodeJSON(t, text, &res)
	assert.Equal(t, "Scrolled down 540px (now at 42% of page)", res.Description)
	assert.Equal(t, 42, res.ScrollPercent)
	assert.True(t, res.RefsExpired)
	assert.Equal(t, "Call get_page_map to see the newly visible content.", res.Suggestion)

	names := ts.events()
	assert.Equal(t, 1, countEvents(names, telemetry.EventScroll))
}

func TestScrollPageInvalidDirection(t *testing.T) {
	ts := newTestServer(t, nil)

	text, isErr := ts.callTool(t, "scroll_page", map[string]any{"direction": "sideways"})
	require.True(t, isErr)

	var payload map[string]string
	decodeJSON(t, text, &payload)
	assert.Equal(t, "Error: Invalid direction 'sideways'. Allowed: down, up, top, bottom", payload["error"])
}

func TestWaitForSelector(t *testing.T) {
	ts := newTestServer(t, nil)

	text, isErr := ts.callTool(t, "wait_for", map[string]any{"selector": "#cart"})
	require.False(t, isErr, text)

	var res struct {
		Success     bool    `json:"success"`
		Mode        string  `json:"mode"`
		Elapsed     float64 `json:"elapsed_seconds"`
		RefsExpired bool    `json:"refs_expired"`
	}
	decodeJSON(t, text, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "selector", res.Mode)
	assert.True(t, res.RefsExpired)
}

func TestWaitForNetworkIdle(t *testing.T) {
	ts := newTestServer(t, nil)

	text, isErr := ts.callTool(t, "wait_for", map[string]any{"network_idle": true})
	require.False(t, isErr, text)

	var res struct {
		Success bool   `json:"success"`
		Mode    string `json:"mode"`
	}
	decodeJSON(t, text, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "network_idle", res.Mode)
}

func TestWaitForRequiresExactlyOneCondition(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, args := range []map[string]any{
		{},
		{"selector": "#cart", "text": "재고"},
	} {
		text, isErr := ts.callTool(t, "wait_for", args)
		require.True(t, isErr)
		var payload map[string]string
		decodeJSON(t, text, &payload)
		assert.Equal(t, "Error: Provide exactly one of 'selector', 'text', or 'network_idle'.", payload["error"])
	}
}

func TestWaitForTimeout(t *testing.T) {
	ts := newTestServer(t, nil)

	text, isErr := ts.callTool(t, "wait_for",
		map[string]any{"selector": "#missing", "timeout_seconds": 0.3})
	require.False(t, isErr, text)

	var res struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decodeJSON(t, text, &res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Timed out after")

	names := ts.events()
	assert.Equal(t, 1, countEvents(names, telemetry.EventWaitForResult))
}

func TestNavigateBack(t *testing.T) {
	ts := newTestServer(t, nil)

	sess := productSession()
	base := sess.EvalFunc
	sess.EvalFunc = func(js string) (json.RawMessage, error) {
		if strings.Contains(js, "history.back") {
			_ = sess.Navigate(context.Background(), homeURL)
			return json.RawMessage(`null`), nil
		}
		return base(js)
	}
	ts.pool.sessions["test-session"] = sess
	require.NoError(t, sess.Navigate(context.Background(), productURL))

	text, isErr := ts.callTool(t, "navigate_back", nil)
	require.False(t, isErr, text)

	var res struct {
		Description string `json:"description"`
		CurrentURL  string `json:"current_url"`
		RefsExpired bool   `json:"refs_expired"`
		Suggestion  string `json:"suggestion"`
	}
	decodeJSON(t, text, &res)
	assert.Equal(t, "Navigated back to "+homeURL, res.Description)
	assert.Equal(t, homeURL, res.CurrentURL)
	assert.True(t, res.RefsExpired)
	assert.Equal(t, "Call get_page_map to rebuild refs for this page.", res.Suggestion)
}

func TestNavigateBackNoHistory(t *testing.T) {
	ts := newTestServer(t, nil)

	sess := productSession()
	base := sess.EvalFunc
	sess.EvalFunc = func(js string) (json.RawMessage, error) {
		if strings.Contains(js, "history.length") {
			return json.RawMessage(`1`), nil
		}
		return base(js)
	}
	ts.pool.sessions["test-session"] = sess

	text, isErr := ts.callTool(t, "navigate_back", nil)
	require.False(t, isErr, text)

	var res struct {
		Description string `json:"description"`
		RefsExpired bool   `json:"refs_expired"`
	}
	decodeJSON(t, text, &res)
	assert.Equal(t, "No browser history to go back to.", res.Description)
	assert.False(t, res.RefsExpired)
}

func TestTakeScreenshot(t *testing.T) {
	ts := newTestServer(t, nil)

	sess := productSession()
	sess.PNG = []byte("png-bytes")
	ts.pool.sessions["test-session"] = sess
	require.NoError(t, sess.Navigate(context.Background(), productURL))

	resp := ts.rpc(t, 1, "tools/call", map[string]any{
		"name": "take_screenshot", "arguments": map[string]any{},
	})
	result := resp["result"].(map[string]any)
	content := result["content"].([]any)
	require.Len(t, content, 2)

	img := content[0].(map[string]any)
	assert.Equal(t, "image", img["type"])
	assert.Equal(t, "image/png", img["mimeType"])
	decoded, err := base64.StdEncoding.DecodeString(img["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), decoded)

	note := content[1].(map[string]any)
	assert.Equal(t, "Screenshot captured (viewport, 9 bytes) of "+productURL, note["text"])
}

func TestTakeScreenshotFullPageOverLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.MaxScreenshotBytes = 4 })

	sess := productSession()
	sess.PNG = []byte("png-bytes")
	ts.pool.sessions["test-session"] = sess

	text, isErr := ts.callTool(t, "take_screenshot", map[string]any{"full_page": true})
	require.True(t, isErr)
	assert.Contains(t, text, "exceeding")
}

func TestGetPageState(t *testing.T) {
	ts := newTestServer(t, nil)

	text, isErr := ts.callTool(t, "get_page_state", nil)
	require.False(t, isErr, text)
	var before struct {
		HasPageMap    bool `json:"has_page_map"`
		Interactables int  `json:"page_map_interactables"`
	}
	decodeJSON(t, text, &before)
	assert.False(t, before.HasPageMap)
	assert.Zero(t, before.Interactables)

	_, isErr = ts.callTool(t, "get_page_map", map[string]any{"url": productURL})
	require.False(t, isErr)

	text, isErr = ts.callTool(t, "get_page_state", nil)
	require.False(t, isErr, text)
	var after struct {
		URL           string `json:"url"`
		Title         string `json:"title"`
		HasPageMap    bool   `json:"has_page_map"`
		Interactables int    `json:"page_map_interactables"`
		Generation    string `json:"cache_generation"`
	}
	decodeJSON(t, text, &after)
	assert.Equal(t, productURL, after.URL)
	assert.Equal(t, "오버핏 레더 자켓", after.Title)
	assert.True(t, after.HasPageMap)
	assert.Equal(t, 2, after.Interactables)
	assert.Len(t, after.Generation, 8)
}

func TestBatchGetPageMap(t *testing.T) {
	ts := newTestServer(t, nil)

	text, isErr := ts.callTool(t, "batch_get_page_map", map[string]any{
		"urls": []string{
			productURL,
			productURL, // duplicate, dropped
			"ftp://203.0.113.9/feed",
			"http://169.254.169.254/latest/meta-data/",
		},
		"concurrency": 2,
	})
	require.False(t, isErr, text)

	var body struct {
		Summary struct {
			Total   int `json:"total"`
			Success int `json:"success"`
			Failed  int `json:"failed"`
		} `json:"summary"`
		Results []struct {
			URL     string          `json:"url"`
			Status  string          `json:"status"`
			PageMap json.RawMessage `json:"page_map"`
			Error   string          `json:"error"`
		} `json:"results"`
	}
	decodeJSON(t, text, &body)

	assert.Equal(t, 3, body.Summary.Total)
	assert.Equal(t, 1, body.Summary.Success)
	assert.Equal(t, 2, body.Summary.Failed)
	require.Len(t, body.Results, 3)

	assert.Equal(t, productURL, body.Results[0].URL)
	assert.Equal(t, "success", body.Results[0].Status)
	assert.Contains(t, string(body.Results[0].PageMap), "장바구니")
	assert.Equal(t, "error", body.Results[1].Status)
	assert.Contains(t, body.Results[1].Error, "scheme")
	assert.Equal(t, "error", body.Results[2].Status)
	assert.Contains(t, body.Results[2].Error, "metadata range")

	// Batch builds file into the LRU only; the active map is untouched.
	stateText, isErr := ts.callTool(t, "get_page_state", nil)
	require.False(t, isErr)
	var state struct {
		HasPageMap bool `json:"has_page_map"`
	}
	decodeJSON(t, stateText, &state)
	assert.False(t, state.HasPageMap)

	names := ts.events()
	assert.Equal(t, 1, countEvents(names, telemetry.EventBatchStart))
	assert.Equal(t, 3, countEvents(names, telemetry.EventBatchURLResult))
	assert.Equal(t, 1, countEvents(names, telemetry.EventBatchComplete))
}

func TestBatchRequiresURLs(t *testing.T) {
	ts := newTestServer(t, nil)

	text, isErr := ts.callTool(t, "batch_get_page_map", map[string]any{"urls": []string{}})
	require.True(t, isErr)

	var payload map[string]string
	decodeJSON(t, text, &payload)
	assert.Equal(t, "Error: 'urls' must be a non-empty array of http/https URLs.", payload["error"])
}

func TestDedupeURLs(t *testing.T) {
	got := dedupeURLs([]string{" a ", "b", "a", "", "b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
