// Package server exposes the page-map tools over JSON-RPC, on stdio or
// HTTP. It owns the wiring between transports, the session manager, the
// build pipeline, and the action executor.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/action"
	"github.com/Retio-ai/pagemap/internal/browser"
	"github.com/Retio-ai/pagemap/internal/config"
	"github.com/Retio-ai/pagemap/internal/guard"
	"github.com/Retio-ai/pagemap/internal/pagemap"
	"github.com/Retio-ai/pagemap/internal/pagemaperr"
	"github.com/Retio-ai/pagemap/internal/ratelimit"
	"github.com/Retio-ai/pagemap/internal/robots"
	"github.com/Retio-ai/pagemap/internal/session"
	"github.com/Retio-ai/pagemap/internal/telemetry"
	"github.com/Retio-ai/pagemap/internal/urlcheck"
)

// Pool is the browser pool surface the server needs. Satisfied by
// *browser.Pool.
type Pool interface {
	session.Pool
	Start(ctx context.Context) error
	Health() browser.PoolHealth
	Shutdown()
}

// RobotsChecker answers whether a URL may be fetched. Satisfied by
// *robots.Checker.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, rawURL string) bool
}

// toolHandler runs one tool call. Handlers never panic outward and
// render their own errors into the result.
type toolHandler func(ctx context.Context, call *toolCall, args json.RawMessage) toolResult

// toolCall carries per-call state into a handler.
type toolCall struct {
	tool    string
	entry   *session.Entry
	traceID string
}

// Deps lets tests and the CLI inject subsystems. Nil fields are built
// from the config.
type Deps struct {
	Pool      Pool
	Sessions  *session.Manager
	Validator *urlcheck.Validator
	Robots    RobotsChecker
	Executor  *action.Executor
	Collector *telemetry.Collector
	Limiter   *ratelimit.Limiter
	SizeGuard *guard.SizeGuard
}

// Server dispatches JSON-RPC tool calls to the page-map pipeline.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *telemetry.Collector

	pool      Pool
	sessions  *session.Manager
	validator *urlcheck.Validator
	robots    RobotsChecker
	executor  *action.Executor
	sizeGuard *guard.SizeGuard
	limiter   *ratelimit.Limiter

	buildOpts pagemap.BuildOptions
	handlers  map[string]toolHandler

	started  atomic.Bool
	draining atomic.Bool
	inflight sync.WaitGroup
}

// New wires a server from the config, filling any dependencies the
// caller did not supply.
func New(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := deps.Collector

	validator := deps.Validator
	if validator == nil {
		validator = urlcheck.New(cfg.AllowLocal)
	}

	pool := deps.Pool
	if pool == nil {
		pool = browser.NewPool(browser.Config{
			Headless:  cfg.Headless,
			Locale:    cfg.Locale,
			UserAgent: cfg.UserAgent(),
		}, cfg.MaxContexts, 0, logger)
	}

	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewManager(session.Config{
			SessionTTL:      cfg.SessionTTL(),
			MaxNavigations:  cfg.MaxNavigations,
			MaxSessionAge:   cfg.MaxSessionAge(),
			MaxTabs:         cfg.MaxTabsPerSession,
			ToolLockTimeout: cfg.ToolLockTimeout(),
		}, pool, session.NewTemplateCache(0, 0), validator.Validate, logger, collector)
	}

	rb := deps.Robots
	if rb == nil {
		rb = robots.NewChecker(config.BotUserAgent, logger)
	}

	sizeGuard := deps.SizeGuard
	if sizeGuard == nil {
		sizeGuard = guard.NewSizeGuard(cfg.MaxResponseBytes)
	}

	limiter := deps.Limiter
	if limiter == nil {
		rl := ratelimit.DefaultConfig()
		if cfg.RateClientCapacity > 0 {
			rl.ClientCapacity = cfg.RateClientCapacity
		}
		if cfg.RateGlobalCapacity > 0 {
			rl.GlobalCapacity = cfg.RateGlobalCapacity
		}
		limiter = ratelimit.New(rl)
	}

	executor := deps.Executor
	if executor == nil {
		executor = action.NewExecutor(logger, collector)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		pool:      pool,
		sessions:  sessions,
		validator: validator,
		robots:    rb,
		executor:  executor,
		sizeGuard: sizeGuard,
		limiter:   limiter,
		buildOpts: pagemap.BuildOptions{
			MaxPrunedTokens: cfg.MaxPrunedTokens,
			TotalBudget:     cfg.TotalTokenBudget,
			Logger:          logger,
		},
	}
	sizeGuard.OnExceeded = func(originalBytes int, tool string) {
		collector.Emit(telemetry.ResponseSizeExceeded{
			Tool: tool, Size: originalBytes, Limit: sizeGuard.Limit,
		}, "")
	}
	s.handlers = map[string]toolHandler{
		"get_page_map":       s.toolGetPageMap,
		"execute_action":     s.toolExecuteAction,
		"navigate_back":      s.toolNavigateBack,
		"take_screenshot":    s.toolTakeScreenshot,
		"batch_get_page_map": s.toolBatchGetPageMap,
		"get_page_state":     s.toolGetPageState,
		"scroll_page":        s.toolScrollPage,
		"wait_for":           s.toolWaitFor,
		"fill_form":          s.toolFillForm,
	}
	return s
}

// Start launches the browser pool. Readiness probes report failure
// until this has succeeded once.
func (s *Server) Start(ctx context.Context) error {
	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.started.Store(true)
	return nil
}

// Shutdown drains in-flight calls, bounded by the configured drain
// timeout, then tears down sessions, the pool, and telemetry.
func (s *Server) Shutdown() {
	s.draining.Store(true)
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.DrainTimeout()):
		s.logger.Warn("drain timeout elapsed with tool calls in flight")
	}
	s.sessions.Shutdown()
	s.pool.Shutdown()
	s.collector.Shutdown()
	s.logger.Info("server stopped")
}

func (s *Server) emit(call *toolCall, p telemetry.Payload) {
	s.collector.Emit(p, call.traceID)
}

// renderMap serializes a page map in the agent-prompt format, clamped
// to the response size limit.
func (s *Server) renderMap(pm *pagemap.PageMap) string {
	return s.sizeGuard.Clamp(pagemap.AgentPrompt(pm, true), "get_page_map")
}

// templateObserver bridges completed builds into the shared template
// cache and reports the learn/validate status through status.
func (s *Server) templateObserver(status *string) func(pagemap.BuildObservation) {
	return func(obs pagemap.BuildObservation) {
		key := session.TemplateKey{
			Domain:   session.ExtractTemplateDomain(obs.URL),
			PageType: obs.PageType,
		}
		*status = s.sessions.Templates().ObserveBuild(
			key, obs.SchemaName, obs.Pruned, obs.Metadata, obs.URL, obs.RawHTML)
	}
}

// toolError renders a failure as the {"error": ...} object agents
// parse, and counts it. Validation problems keep their exact message;
// infrastructure failures go through the problem-detail mapping.
func (s *Server) toolError(call *toolCall, err error) toolResult {
	var ie *action.InputError
	var payload any
	errType := "internal"
	switch {
	case errors.As(err, &ie):
		payload = map[string]string{"error": "Error: " + ie.Error()}
		errType = "input"
	case errors.Is(err, pagemaperr.ErrNoActivePageMap):
		payload = map[string]string{"error": err.Error()}
		errType = "no_active_page_map"
	case errors.Is(err, pagemaperr.ErrToolBusy):
		msg := err.Error()
		if hint := pagemaperr.RecoveryHint(call.tool); hint != "" {
			msg += ". " + hint
		}
		payload = map[string]string{"error": msg}
		errType = "busy"
	default:
		p := pagemaperr.FromError(err, call.tool)
		payload = map[string]any{"error": p.Detail, "type": p.Type, "title": p.Title}
		errType = p.Title
	}
	s.emit(call, telemetry.ToolError{Context: call.tool, ErrorType: errType})
	s.logger.Warn("tool call failed", zap.String("tool", call.tool), zap.Error(err))
	return errorResult(mustJSON(payload))
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error": "internal serialization failure"}`
	}
	return string(b)
}

type ctxKey int

const traceIDKey ctxKey = 0

// withTraceID stores the request correlation id for telemetry.
func withTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func traceIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
