package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/pagemaperr"
)

// healthPaths bypass rate limiting entirely.
var healthPaths = map[string]bool{
	"/health":   true,
	"/livez":    true,
	"/ready":    true,
	"/readyz":   true,
	"/startupz": true,
}

// maxSniffBody bounds how much request body the middleware will buffer
// while looking for the tool name.
const maxSniffBody = 1 << 20

type rpcEnvelope struct {
	Method string `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

// Middleware enforces the limiter on the JSON-RPC endpoint. It buffers the
// request body to discover the tool name (for per-tool costs), then
// replays it for the downstream handler. Denials answer 429 problem+json
// with Retry-After and never invoke the inner handler.
func Middleware(l *Limiter, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxSniffBody))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		tool := ""
		var env rpcEnvelope
		if json.Unmarshal(body, &env) == nil && env.Method == "tools/call" {
			tool = env.Params.Name
		}

		res := l.Acquire(clientKey(r), tool)
		res.ApplyHeaders(w.Header())

		if !res.Allowed {
			logger.Warn("rate limit exceeded",
				zap.String("scope", res.Scope),
				zap.String("tool", tool),
				zap.Duration("retry_after", res.RetryAfter))
			p := pagemaperr.ProblemDetail{
				Type:       pagemaperr.ProblemRateLimitExceeded.URI(),
				Title:      "Rate Limit Exceeded",
				Status:     http.StatusTooManyRequests,
				Detail:     "request rate limit exceeded; honor Retry-After",
				RetryAfter: res.RetryAfter.Seconds(),
			}
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write(p.JSON())
			return
		}
		if res.LowRemaining() {
			logger.Warn("rate limit running low",
				zap.Int("remaining", res.Remaining),
				zap.Int("limit", res.Limit))
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller: the authenticated client ID when the
// gateway set one, otherwise the peer IP.
func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-Client-Id"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
