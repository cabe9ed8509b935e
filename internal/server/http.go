package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/guard"
	"github.com/Retio-ai/pagemap/internal/ratelimit"
)

// maxRequestBytes bounds one JSON-RPC request body.
const maxRequestBytes = 2 << 20

// RunHTTP serves the JSON-RPC endpoint and health probes until ctx is
// cancelled, then shuts the listener down gracefully.
func (s *Server) RunHTTP(ctx context.Context) error {
	gcfg, err := parseTrustedProxies(s.cfg.TrustedProxies)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.httpHandler(gcfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("http transport listening", zap.String("addr", s.cfg.Addr()))

	select {
	case <-ctx.Done():
		s.draining.Store(true)
		s.logger.Info("http transport draining")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// httpHandler chains gateway, security headers, CORS, and rate limiting
// in front of the mux. The gateway runs outermost so every later layer
// sees the extracted client IP and request id.
func (s *Server) httpHandler(gcfg *gatewayConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/livez", s.handleLivez)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/startupz", s.handleStartupz)

	var h http.Handler = ratelimit.Middleware(s.limiter, s.logger, mux)
	h = s.cors(h)
	h = guard.SecurityHeaders(guard.HeaderPolicy{
		RequireTLS:      s.cfg.RequireTLS,
		TrustProxyProto: len(s.cfg.TrustedProxies) > 0,
	}, h)
	return gateway(gcfg, h)
}

// cors allows only explicitly configured origins. Config validation
// already refused the wildcard.
func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id, X-Request-Id")
			h.Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.draining.Load() {
		w.Header().Set("Retry-After", "5")
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = r.Header.Get("X-Client-Id")
	}
	if sessionID == "" {
		sessionID = "default"
	}

	resp := s.HandleMessage(r.Context(), sessionID, body)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, `{"status":"ok","transport":"http"}`)
}

func (s *Server) handleLivez(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, `{"status":"ok"}`)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.pool.Health().BrowserConnected {
		writeProbe(w, http.StatusServiceUnavailable, `{"status":"unavailable","reason":"browser not connected"}`)
		return
	}
	writeProbe(w, http.StatusOK, `{"status":"ready"}`)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeProbe(w, http.StatusServiceUnavailable, `{"status":"draining"}`)
		return
	}
	s.handleReady(w, r)
}

func (s *Server) handleStartupz(w http.ResponseWriter, _ *http.Request) {
	if !s.started.Load() {
		writeProbe(w, http.StatusServiceUnavailable, `{"status":"starting"}`)
		return
	}
	writeProbe(w, http.StatusOK, `{"status":"started"}`)
}
