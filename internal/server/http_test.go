package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Retio-ai/pagemap/internal/config"
)

func newHTTPHandler(t *testing.T, mutate func(*config.Config)) (*testServer, http.Handler) {
	t.Helper()
	ts := newTestServer(t, mutate)
	gcfg, err := parseTrustedProxies(ts.cfg.TrustedProxies)
	require.NoError(t, err)
	return ts, ts.httpHandler(gcfg)
}

func postMCP(handler http.Handler, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getPath(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHTTPProbes(t *testing.T) {
	ts, handler := newHTTPHandler(t, nil)

	rec := getPath(handler, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","transport":"http"}`, rec.Body.String())

	rec = getPath(handler, "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = getPath(handler, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	ts.pool.connected = false
	rec = getPath(handler, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "browser not connected")
}

func TestHTTPStartupProbe(t *testing.T) {
	ts, handler := newHTTPHandler(t, nil)

	rec := getPath(handler, "/startupz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "starting")

	require.NoError(t, ts.Start(context.Background()))
	rec = getPath(handler, "/startupz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "started")
}

func TestHTTPMCPRoundtrip(t *testing.T) {
	_, handler := newHTTPHandler(t, nil)

	rec := postMCP(handler, "", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	info := resp["result"].(map[string]any)["serverInfo"].(map[string]any)
	assert.Equal(t, "pagemap", info["name"])
}

func TestHTTPParseErrorStaysJSONRPC(t *testing.T) {
	_, handler := newHTTPHandler(t, nil)

	rec := postMCP(handler, "", `{broken`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	rpcErr := resp["error"].(map[string]any)
	assert.Equal(t, float64(codeParseError), rpcErr["code"])
}

func TestHTTPNotificationAccepted(t *testing.T) {
	_, handler := newHTTPHandler(t, nil)

	rec := postMCP(handler, "", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHTTPMethodNotAllowed(t *testing.T) {
	_, handler := newHTTPHandler(t, nil)

	rec := getPath(handler, "/mcp")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestHTTPDraining(t *testing.T) {
	ts, handler := newHTTPHandler(t, nil)
	ts.draining.Store(true)

	rec := postMCP(handler, "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	rec = getPath(handler, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "draining")
}

func TestHTTPSessionScoping(t *testing.T) {
	_, handler := newHTTPHandler(t, nil)

	buildReq := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_page_map","arguments":{"url":"` + productURL + `"}}}`
	rec := postMCP(handler, "alice", buildReq)
	require.Equal(t, http.StatusOK, rec.Code)

	stateReq := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_page_state"}}`
	hasMap := func(rec *httptest.ResponseRecorder) bool {
		var resp struct {
			Result struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Result.Content)
		var state struct {
			HasPageMap bool `json:"has_page_map"`
		}
		require.NoError(t, json.Unmarshal([]byte(resp.Result.Content[0].Text), &state))
		return state.HasPageMap
	}

	assert.True(t, hasMap(postMCP(handler, "alice", stateReq)))
	assert.False(t, hasMap(postMCP(handler, "bob", stateReq)))
}

func TestHTTPCORS(t *testing.T) {
	_, handler := newHTTPHandler(t, func(cfg *config.Config) {
		cfg.CORSOrigins = []string{"https://agent.example"}
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Origin", "https://agent.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://agent.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")

	req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "https://agent.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestHTTPRequireTLS(t *testing.T) {
	_, handler := newHTTPHandler(t, func(cfg *config.Config) {
		cfg.RequireTLS = true
		cfg.TrustedProxies = []string{"192.0.2.1"}
	})

	rec := postMCP(handler, "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusMisdirectedRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	// A trusted proxy's X-Forwarded-Proto satisfies the TLS check.
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPRateLimit(t *testing.T) {
	// One ping costs DefaultCost tokens, so a 3-token bucket allows
	// exactly one call.
	_, handler := newHTTPHandler(t, func(cfg *config.Config) {
		cfg.RateClientCapacity = 3
	})

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	rec := postMCP(handler, "", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("RateLimit-Limit"))

	rec = postMCP(handler, "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Rate Limit Exceeded")

	// Health probes bypass the limiter.
	rec = getPath(handler, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeStdio(t *testing.T) {
	ts := newTestServer(t, nil)

	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n" +
			"\n" +
			`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n")
	var out bytes.Buffer

	require.NoError(t, ts.serveStdio(context.Background(), in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2, "blank lines and notifications produce no output")

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, float64(1), first["id"])
	assert.Contains(t, first, "result")
	assert.Equal(t, float64(2), second["id"])
}
