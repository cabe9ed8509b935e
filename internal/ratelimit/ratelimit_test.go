package ratelimit

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		Enabled:          true,
		ClientCapacity:   10,
		ClientRefillRate: 1.0,
		GlobalCapacity:   100,
		GlobalRefillRate: 10.0,
		StaleAfter:       30 * time.Minute,
		ReapInterval:     time.Minute,
	}
}

// fakeClock drives the limiter deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(cfg)
	l.now = clock.now
	l.global = newBucket(cfg.GlobalCapacity, cfg.GlobalRefillRate, clock.t)
	return l, clock
}

func TestAcquireDeniesAfterCapacity(t *testing.T) {
	l, _ := newTestLimiter(testConfig())

	// Capacity 10, execute_action costs 3: three calls pass, the fourth
	// is denied.
	for i := 0; i < 3; i++ {
		res := l.Acquire("client-a", "execute_action")
		require.True(t, res.Allowed, "call %d", i+1)
	}
	res := l.Acquire("client-a", "execute_action")
	assert.False(t, res.Allowed)
	assert.Equal(t, "client", res.Scope)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestAcquireRefillsOverTime(t *testing.T) {
	l, clock := newTestLimiter(testConfig())
	for i := 0; i < 3; i++ {
		l.Acquire("c", "execute_action")
	}
	require.False(t, l.Acquire("c", "execute_action").Allowed)

	clock.advance(3 * time.Second) // 3 tokens at 1/s
	assert.True(t, l.Acquire("c", "execute_action").Allowed)
}

func TestCostAboveCapacityAlwaysDenied(t *testing.T) {
	cfg := testConfig()
	cfg.ClientCapacity = 5
	l, _ := newTestLimiter(cfg)
	res := l.Acquire("c", "batch_get_page_map") // cost 10 > capacity 5
	assert.False(t, res.Allowed)
}

func TestGlobalRefundOnClientDenial(t *testing.T) {
	l, _ := newTestLimiter(testConfig())
	for i := 0; i < 3; i++ {
		l.Acquire("greedy", "execute_action")
	}
	// Denied for this client; the global bucket must be refunded so other
	// clients are unaffected.
	before := l.global.tokens
	require.False(t, l.Acquire("greedy", "execute_action").Allowed)
	assert.Equal(t, before, l.global.tokens)
	assert.True(t, l.Acquire("other", "execute_action").Allowed)
}

func TestGlobalBucketDenies(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalCapacity = 6
	cfg.GlobalRefillRate = 0.5
	l, _ := newTestLimiter(cfg)

	require.True(t, l.Acquire("a", "execute_action").Allowed)
	require.True(t, l.Acquire("b", "execute_action").Allowed)
	res := l.Acquire("c", "execute_action")
	assert.False(t, res.Allowed)
	assert.Equal(t, "global", res.Scope)
}

func TestDisabledAndAnonymousBypass(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	l, _ := newTestLimiter(cfg)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Acquire("c", "batch_get_page_map").Allowed)
	}

	l2, _ := newTestLimiter(testConfig())
	for i := 0; i < 100; i++ {
		assert.True(t, l2.Acquire("", "batch_get_page_map").Allowed)
	}
}

func TestIdleClientsReaped(t *testing.T) {
	l, clock := newTestLimiter(testConfig())
	l.Acquire("old", "get_page_state")
	require.Equal(t, 1, l.ClientCount())

	clock.advance(31 * time.Minute)
	l.Acquire("fresh", "get_page_state")
	assert.Equal(t, 1, l.ClientCount(), "stale bucket must be dropped")
}

func TestLowRemaining(t *testing.T) {
	assert.True(t, Result{Allowed: true, Limit: 10, Remaining: 2}.LowRemaining())
	assert.False(t, Result{Allowed: true, Limit: 10, Remaining: 3}.LowRemaining())
}

func rpcBody(tool string) *bytes.Reader {
	return bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"` + tool + `","arguments":{}}}`))
}

func TestMiddlewareDeniesWith429(t *testing.T) {
	cfg := testConfig()
	l, _ := newTestLimiter(cfg)
	invoked := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invoked++
		// Downstream must be able to re-read the buffered body.
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(b), "execute_action")
		w.WriteHeader(http.StatusOK)
	})
	srv := Middleware(l, zap.NewNop(), inner)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/mcp", rpcBody("execute_action"))
		req.RemoteAddr = "198.51.100.7:1234"
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("RateLimit-Remaining"))
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp", rpcBody("execute_action"))
	req.RemoteAddr = "198.51.100.7:1234"
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "https://www.retio.ai/pagemap/errors/rate-limit-exceeded")
	assert.Equal(t, 3, invoked, "inner handler must not run on denial")
}

func TestMiddlewareBypassesHealthEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.ClientCapacity = 1
	cfg.ClientRefillRate = 0.001
	l, _ := newTestLimiter(cfg)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := Middleware(l, zap.NewNop(), inner)

	for _, path := range []string{"/health", "/livez", "/ready", "/readyz", "/startupz"} {
		for i := 0; i < 5; i++ {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, path, strings.NewReader(""))
			req.RemoteAddr = "198.51.100.7:1234"
			srv.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	}
}
