package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Retio-ai/pagemap/internal/action"
	"github.com/Retio-ai/pagemap/internal/config"
	"github.com/Retio-ai/pagemap/internal/pagemap"
	"github.com/Retio-ai/pagemap/internal/pagemaperr"
	"github.com/Retio-ai/pagemap/internal/session"
	"github.com/Retio-ai/pagemap/internal/telemetry"
)

// Batch concurrency bounds: min(requested, maxBatchWorkers), default
// defaultBatchWorkers when the argument is absent.
const (
	defaultBatchWorkers = 5
	maxBatchWorkers     = 10
)

type getPageMapArgs struct {
	URL string `json:"url"`
}

func (s *Server) toolGetPageMap(ctx context.Context, call *toolCall, raw json.RawMessage) toolResult {
	var args getPageMapArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return s.toolError(call, action.NewInputError("invalid arguments: %v", err))
		}
	}
	args.URL = strings.TrimSpace(args.URL)

	timeout := s.cfg.PipelineTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer := pagemap.NewStageTimer()
	text, err := s.buildPageMap(ctx, call, args.URL, timer)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			call.entry.Cache.Invalidate(session.InvalidateTimeout)
			report := timer.Report()
			s.emit(call, telemetry.PipelineTimeout{TimedOutAt: report.TimedOutAt, Hint: report.Hint})
			s.logger.Error("page map build timed out",
				zap.String("stage", report.TimedOutAt),
				zap.Float64("total_ms", report.TotalMS))
			return errorResult(report.Text("get_page_map", timeout))
		}
		return s.toolError(call, err)
	}
	return textResult(text)
}

// buildPageMap runs one build, recovering once from a browser that died
// mid-pipeline by recycling the session. A second failure surfaces.
func (s *Server) buildPageMap(ctx context.Context, call *toolCall, url string, timer *pagemap.StageTimer) (string, error) {
	text, err := s.buildPageMapOnce(ctx, call, url, timer)
	if err != nil && pagemaperr.IsBrowserDead(err) && ctx.Err() == nil {
		s.emit(call, telemetry.BrowserDead{SessionID: call.entry.ID, Error: err.Error()})
		s.logger.Warn("browser died mid-build, recycling session",
			zap.String("session_id", call.entry.ID), zap.Error(err))
		s.sessions.RemoveSession(call.entry.ID)
		call.entry = s.sessions.GetContext(call.entry.ID)
		return s.buildPageMapOnce(ctx, call, url, timer)
	}
	return text, err
}

func (s *Server) buildPageMapOnce(ctx context.Context, call *toolCall, url string, timer *pagemap.StageTimer) (string, error) {
	entry := call.entry

	var templateStatus string
	opts := s.buildOpts
	opts.Timer = timer
	opts.Observer = s.templateObserver(&templateStatus)

	if url != "" {
		if err := s.validator.ValidateWithDNS(ctx, url); err != nil {
			entry.Cache.Invalidate(session.InvalidateSSRFBlocked)
			return "", err
		}
		if !s.cfg.IgnoreRobots && !s.robots.IsAllowed(ctx, url) {
			return "", &pagemaperr.RobotsBlockedError{URL: url, UserAgent: config.BotUserAgent}
		}
	}

	sess, err := s.sessions.GetSession(ctx, entry)
	if err != nil {
		return "", err
	}

	if url == "" {
		// Rebuild whatever page the session is on. No cache lookup: the
		// caller explicitly asked for fresh refs.
		if err := s.revalidateFinalURL(ctx, entry, sess); err != nil {
			return "", err
		}
		pm, err := pagemap.BuildLive(ctx, sess, "", opts)
		if err != nil {
			return "", err
		}
		fp := session.CaptureFingerprint(ctx, sess)
		entry.Cache.Store(pm, fp, 0)
		s.emit(call, telemetry.FullBuild{Tier: "rebuild"})
		s.emitBuildComplete(call, pm, "rebuild", timer, templateStatus)
		return s.renderMap(pm), nil
	}

	s.emit(call, telemetry.NavigationStart{URL: url})
	strategy, err := pagemap.NavigateAndSettle(ctx, sess, url, opts)
	if err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := s.revalidateFinalURL(ctx, entry, sess); err != nil {
		return "", err
	}

	timer.Stage(pagemap.StageFingerprint)
	fp := session.CaptureFingerprint(ctx, sess)

	tier := "full"
	if cached := entry.Cache.Lookup(url); cached != nil {
		verdict := session.CompareFingerprints(cached.Fingerprint, fp)
		switch verdict.Severity {
		case "none":
			hitTier := "lru"
			if active := entry.Cache.ActiveEntry(); active != nil && active == cached {
				hitTier = "active"
			}
			entry.Cache.RecordHit()
			entry.Cache.Store(cached.PageMap, fp, cached.ScrollY)
			s.emit(call, telemetry.CacheHit{Tier: hitTier})
			s.logger.Info("page map cache hit",
				zap.String("tier", hitTier), zap.String("url", url))
			return s.renderMap(cached.PageMap), nil
		case "minor":
			entry.Cache.RecordContentRefresh()
			s.emit(call, telemetry.CacheRefresh{Tier: "refresh"})
			tier = "refresh"
		default:
			entry.Cache.RecordFingerprintMismatch()
		}
	} else {
		entry.Cache.RecordMiss()
	}

	pm, err := pagemap.BuildLive(ctx, sess, "", opts)
	if err != nil {
		return "", err
	}
	pm.Metadata["navigation_strategy"] = strategy
	entry.Cache.Store(pm, fp, 0)
	if tier == "full" {
		s.emit(call, telemetry.FullBuild{Tier: tier})
	}
	s.emitBuildComplete(call, pm, tier, timer, templateStatus)
	return s.renderMap(pm), nil
}

// revalidateFinalURL re-checks the URL the browser actually landed on,
// catching redirect-based SSRF. On a blocked final URL the page is
// parked on about:blank and the cached map discarded. about:blank
// itself is browser-local and passes.
func (s *Server) revalidateFinalURL(ctx context.Context, entry *session.Entry, sess sessionLike) error {
	finalURL := sess.PageURL()
	if finalURL == "" || finalURL == "about:blank" {
		return nil
	}
	err := s.validator.Validate(finalURL)
	if err == nil {
		return nil
	}
	s.logger.Warn("post-navigation URL blocked",
		zap.String("final_url", finalURL), zap.Error(err))
	if navErr := sess.Navigate(ctx, "about:blank"); navErr != nil {
		s.logger.Warn("parking on about:blank failed", zap.Error(navErr))
	}
	entry.Cache.Invalidate(session.InvalidateSSRFBlocked)
	return action.NewInputError("Redirect led to blocked URL: %v", err)
}

// sessionLike is the slice of browser.Session revalidation needs; it
// keeps the helper testable with a narrow fake.
type sessionLike interface {
	PageURL() string
	Navigate(ctx context.Context, url string) error
}

func (s *Server) emitBuildComplete(call *toolCall, pm *pagemap.PageMap, tier string, timer *pagemap.StageTimer, templateStatus string) {
	timings := timer.ElapsedPerStage()
	s.emit(call, telemetry.PipelineCompleted{
		Tier:          tier,
		Interactables: len(pm.Interactables),
		PrunedTokens:  pm.PrunedTokens,
		StageTimings:  timings,
		PageType:      pm.PageType,
	})
	budget := 0
	if b, ok := pm.Metadata["_total_budget"].(int); ok {
		budget = b
	}
	s.emit(call, telemetry.PrunedContextComplete{
		Tokens:         pm.PrunedTokens,
		Budget:         budget,
		PruneMS:        timings[pagemap.StagePruning],
		TemplateStatus: templateStatus,
		PageType:       pm.PageType,
	})
}

type batchArgs struct {
	URLs        []string `json:"urls"`
	Concurrency int      `json:"concurrency"`
}

type batchItem struct {
	URL     string          `json:"url"`
	Status  string          `json:"status"`
	PageMap json.RawMessage `json:"page_map,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type batchSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

func (s *Server) toolBatchGetPageMap(ctx context.Context, call *toolCall, raw json.RawMessage) toolResult {
	var args batchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return s.toolError(call, action.NewInputError("invalid arguments: %v", err))
	}
	urls := dedupeURLs(args.URLs)
	if len(urls) == 0 {
		return s.toolError(call, action.NewInputError("'urls' must be a non-empty array of http/https URLs."))
	}

	workers := args.Concurrency
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	if workers > maxBatchWorkers {
		workers = maxBatchWorkers
	}

	items := make([]batchItem, len(urls))
	pending := 0
	for i, u := range urls {
		items[i] = batchItem{URL: u}
		if err := s.validator.Validate(u); err != nil {
			items[i].Status = "error"
			items[i].Error = err.Error()
			continue
		}
		pending++
	}
	s.emit(call, telemetry.BatchStart{URLsCount: len(args.URLs), ValidCount: pending})

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range items {
		if items[i].Status == "error" {
			continue
		}
		i := i
		g.Go(func() error {
			items[i] = s.batchOne(gctx, call, items[i].URL)
			return nil
		})
	}
	// Workers never return errors; they record them per URL.
	_ = g.Wait()

	summary := batchSummary{Total: len(items)}
	for i := range items {
		if items[i].Status == "success" {
			summary.Success++
		} else {
			summary.Failed++
		}
		s.emit(call, telemetry.BatchURLResult{URL: items[i].URL, Success: items[i].Status == "success"})
	}
	s.emit(call, telemetry.BatchComplete{
		ElapsedMS: int(time.Since(start).Milliseconds()),
		Success:   summary.Success,
		Failed:    summary.Failed,
	})
	s.logger.Info("batch complete",
		zap.Int("total", summary.Total),
		zap.Int("success", summary.Success),
		zap.Int("failed", summary.Failed))

	body := mustJSON(map[string]any{"summary": summary, "results": items})
	return textResult(s.sizeGuard.Clamp(body, "batch_get_page_map"))
}

// batchOne builds one URL's map in an isolated pooled context and files
// it into the caller's LRU without touching the active slot.
func (s *Server) batchOne(ctx context.Context, call *toolCall, url string) batchItem {
	item := batchItem{URL: url, Status: "error"}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PipelineTimeout())
	defer cancel()

	if err := s.validator.ValidateWithDNS(ctx, url); err != nil {
		item.Error = err.Error()
		return item
	}
	if !s.cfg.IgnoreRobots && !s.robots.IsAllowed(ctx, url) {
		item.Error = (&pagemaperr.RobotsBlockedError{URL: url, UserAgent: config.BotUserAgent}).Error()
		return item
	}

	poolID := "batch-" + uuid.NewString()
	sess, err := s.pool.Acquire(ctx, poolID)
	if err != nil {
		item.Error = pagemaperr.SanitizeDetail(err.Error())
		return item
	}
	defer s.pool.Release(poolID)
	if err := sess.InstallRouteGuard(s.validator.Validate); err != nil {
		item.Error = pagemaperr.SanitizeDetail(err.Error())
		return item
	}

	opts := s.buildOpts
	pm, err := pagemap.BuildLive(ctx, sess, url, opts)
	if err != nil {
		item.Error = pagemaperr.SanitizeDetail(err.Error())
		return item
	}
	fp := session.CaptureFingerprint(ctx, sess)
	call.entry.Cache.StoreInLRUOnly(pm, fp)

	view, err := pagemap.ToJSON(pm, false)
	if err != nil {
		item.Error = "serialize page map: " + err.Error()
		return item
	}
	item.Status = "success"
	item.PageMap = view
	return item
}

// dedupeURLs drops duplicates while preserving first-seen order.
func dedupeURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
