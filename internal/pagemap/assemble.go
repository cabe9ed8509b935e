package pagemap

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/browser"
	"github.com/Retio-ai/pagemap/internal/classify"
	"github.com/Retio-ai/pagemap/internal/contextbuild"
	"github.com/Retio-ai/pagemap/internal/detect"
	"github.com/Retio-ai/pagemap/internal/i18n"
	"github.com/Retio-ai/pagemap/internal/pagemaperr"
	"github.com/Retio-ai/pagemap/internal/prune"
	"github.com/Retio-ai/pagemap/internal/tokens"
)

// Navigation strategies.
const (
	NavHybrid      = "hybrid"
	NavNetworkIdle = "networkidle"
	NavLoad        = "load"
)

// Navigation and settle defaults.
const (
	DefaultNetworkIdleQuiet  = 500 * time.Millisecond
	DefaultNetworkIdleBudget = 5 * time.Second
	DefaultSettleQuiet       = 200 * time.Millisecond
	DefaultSettleMax         = 3 * time.Second
)

// blockedBodyTokenCeiling: anti-bot interstitials are tiny; a real page
// above this token count is never classified blocked by markers alone.
const blockedBodyTokenCeiling = 2000

// BuildOptions tunes one live build. The zero value selects the
// defaults.
type BuildOptions struct {
	// Strategy is NavHybrid, NavNetworkIdle, or NavLoad.
	Strategy string
	// NetworkIdleQuiet is the no-traffic window that counts as idle.
	NetworkIdleQuiet time.Duration
	// NetworkIdleBudget caps how long hybrid waits for idle before
	// falling back to load+settle.
	NetworkIdleBudget time.Duration
	// SettleQuiet is the mutation-free window the settle script waits
	// for; SettleMax caps the whole settle.
	SettleQuiet time.Duration
	SettleMax   time.Duration
	// MaxPrunedTokens and TotalBudget override the locale-derived
	// token budget when positive.
	MaxPrunedTokens int
	TotalBudget     int
	// Timer, when set, receives stage transitions so a caller-side
	// timeout can name the running stage.
	Timer  *StageTimer
	Logger *zap.Logger
	// Observer, when set, receives the pipeline internals of each
	// completed build. The server hooks the template cache in here.
	Observer func(BuildObservation)
}

// BuildObservation exposes what a build saw, for callers that keep
// cross-build state such as site templates.
type BuildObservation struct {
	URL        string
	PageType   string
	SchemaName string
	Pruned     prune.Result
	Metadata   map[string]any
	RawHTML    string
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.Strategy == "" {
		o.Strategy = NavHybrid
	}
	if o.NetworkIdleQuiet <= 0 {
		o.NetworkIdleQuiet = DefaultNetworkIdleQuiet
	}
	if o.NetworkIdleBudget <= 0 {
		o.NetworkIdleBudget = DefaultNetworkIdleBudget
	}
	if o.SettleQuiet <= 0 {
		o.SettleQuiet = DefaultSettleQuiet
	}
	if o.SettleMax <= 0 {
		o.SettleMax = DefaultSettleMax
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// settleJS waits for a DOM mutation quiet window. Resolves with the
// observed strategy string; never rejects.
const settleJS = `(quietMs, maxMs) => new Promise((resolve) => {
	let timer = null;
	let done = false;
	const finish = (why) => {
		if (done) return;
		done = true;
		if (timer) clearTimeout(timer);
		observer.disconnect();
		resolve(why);
	};
	const observer = new MutationObserver(() => {
		if (timer) clearTimeout(timer);
		timer = setTimeout(() => finish('quiet'), quietMs);
	});
	observer.observe(document.documentElement, {childList: true, subtree: true, attributes: true});
	timer = setTimeout(() => finish('quiet'), quietMs);
	setTimeout(() => finish('max'), maxMs);
})`

// navigate runs the configured navigation strategy. Navigate itself
// waits for the load event; networkidle and hybrid add an idle wait on
// top. Returns the strategy actually used.
func navigate(ctx context.Context, sess browser.Session, url string, opts BuildOptions) (string, error) {
	if err := sess.Navigate(ctx, url); err != nil {
		if !sess.IsAlive(ctx) {
			return "", &pagemaperr.BrowserDeadError{Cause: err}
		}
		return "", err
	}

	switch opts.Strategy {
	case NavLoad:
		return NavLoad, nil
	case NavNetworkIdle:
		if err := sess.WaitNetworkIdle(ctx, opts.NetworkIdleQuiet, opts.NetworkIdleBudget); err != nil {
			return "", err
		}
		return NavNetworkIdle, nil
	default: // hybrid
		started := time.Now()
		if err := sess.WaitNetworkIdle(ctx, opts.NetworkIdleQuiet, opts.NetworkIdleBudget); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !sess.IsAlive(ctx) {
				return "", &pagemaperr.BrowserDeadError{Cause: err}
			}
			return "load+settle", nil
		}
		if time.Since(started) >= opts.NetworkIdleBudget {
			return "load+settle", nil
		}
		return NavHybrid, nil
	}
}

// NavigateAndSettle runs the navigation strategy and the post-load
// settle wait without building a map. The server uses it to capture a
// revisit fingerprint before deciding between cache hit and rebuild.
func NavigateAndSettle(ctx context.Context, sess browser.Session, url string, opts BuildOptions) (string, error) {
	opts = opts.withDefaults()
	strategy, err := navigate(ctx, sess, url, opts)
	if err != nil {
		return "", err
	}
	settle(ctx, sess, opts)
	return strategy, nil
}

// settle evaluates the mutation-observer quiet-window script. Failures
// are swallowed: a page that cannot run the script is simply taken
// as-is.
func settle(ctx context.Context, sess browser.Session, opts BuildOptions) {
	js := fmt.Sprintf("() => (%s)(%d, %d)", settleJS, opts.SettleQuiet.Milliseconds(), opts.SettleMax.Milliseconds())
	settleCtx, cancel := context.WithTimeout(ctx, opts.SettleMax+time.Second)
	defer cancel()
	_, _ = sess.Eval(settleCtx, js)
}

var assembleTagRe = regexp.MustCompile(`(?s)<(?:script|style)[^>]*>.*?</(?:script|style)>|<[^>]*>`)

// visibleTextSample strips markup for the CJK-ratio probe. Rough is
// fine; only the character ratio matters.
func visibleTextSample(rawHTML string) string {
	const sampleBytes = 64 << 10
	if len(rawHTML) > sampleBytes {
		rawHTML = rawHTML[:sampleBytes]
	}
	text := assembleTagRe.ReplaceAllString(rawHTML, " ")
	return strings.Join(strings.Fields(text), " ")
}

// responseStatusJS reads the HTTP status of the document navigation,
// available in Chromium via PerformanceNavigationTiming.
const responseStatusJS = `() => {
	const entries = performance.getEntriesByType('navigation');
	return entries.length ? (entries[0].responseStatus || 0) : 0;
}`

// classifyBlocked detects anti-bot interstitials: a near-empty body
// carrying a challenge marker, or an error-class HTTP status on an
// otherwise tiny page. Returns the matched marker and the HTTP status
// (0 when unavailable).
func classifyBlocked(ctx context.Context, sess browser.Session, rawHTML string) (marker string, status int, blocked bool) {
	if sess != nil {
		if raw, err := sess.Eval(ctx, responseStatusJS); err == nil {
			_ = json.Unmarshal(raw, &status)
		}
	}
	if tokens.Count(visibleTextSample(rawHTML)) >= blockedBodyTokenCeiling {
		return "", status, false
	}
	lower := strings.ToLower(rawHTML)
	for _, kw := range classify.AntiBotKeywords {
		if strings.Contains(lower, kw) {
			return kw, status, true
		}
	}
	if status == 403 || status == 503 {
		return fmt.Sprintf("http %d", status), status, true
	}
	return "", status, false
}

// BuildLive assembles a page map from a live browser session. With a
// non-empty url it navigates first; with "" it rebuilds the current
// page. Detection failures degrade to warnings; navigation and HTML
// capture failures are errors.
func BuildLive(ctx context.Context, sess browser.Session, url string, opts BuildOptions) (*PageMap, error) {
	opts = opts.withDefaults()
	timer := opts.Timer
	if timer == nil {
		timer = NewStageTimer()
	}
	start := time.Now()
	strategy := "current"

	timer.Stage(StageNavigation)
	if url != "" {
		used, err := navigate(ctx, sess, url, opts)
		if err != nil {
			timer.Finalize()
			return nil, fmt.Errorf("navigate %s: %w", url, err)
		}
		strategy = used
	}
	settle(ctx, sess, opts)

	pageURL := sess.PageURL()
	if pageURL == "" {
		pageURL = url
	}
	title, err := sess.PageTitle()
	if err != nil {
		title = ""
	}

	timer.Stage(StageDetection)
	interactables, warnings := detect.Detect(ctx, sess)

	timer.Stage(StagePruning)
	rawHTML, err := sess.PageHTML(ctx)
	if err != nil {
		timer.Finalize()
		if !sess.IsAlive(ctx) {
			return nil, &pagemaperr.BrowserDeadError{Cause: err}
		}
		return nil, fmt.Errorf("capture html: %w", err)
	}

	pm := assemble(pageURL, title, rawHTML, interactables, warnings, opts)
	pm.GenerationMS = roundMS(time.Since(start))
	pm.Metadata["navigation_strategy"] = strategy

	if marker, status, blocked := classifyBlocked(ctx, sess, rawHTML); blocked {
		markBlocked(pm, marker, status)
	}

	timer.Finalize()
	if meta := timer.ElapsedPerStage(); len(meta) > 0 {
		pm.Metadata["stage_timings_ms"] = meta
	}
	opts.Logger.Info("page map built",
		zap.String("url", pageURL),
		zap.String("page_type", pm.PageType),
		zap.Int("interactables", len(pm.Interactables)),
		zap.Int("pruned_tokens", pm.PrunedTokens),
		zap.Float64("generation_ms", pm.GenerationMS))
	return pm, nil
}

// assemble is the shared tail of the live and offline builds: classify,
// prune, compress, budget-filter, and attach hints.
func assemble(pageURL, title, rawHTML string, interactables []detect.Interactable, warnings []string, opts BuildOptions) *PageMap {
	pageType := classify.Page(pageURL, rawHTML).PageType
	schemaName := classify.Schema(pageURL, rawHTML)
	locale := i18n.DetectLocale(pageURL)

	budget := tokens.ComputeBudget(locale, visibleTextSample(rawHTML))
	maxPruned := opts.MaxPrunedTokens
	if maxPruned <= 0 {
		maxPruned = budget.PrunedContext
	}
	totalBudget := opts.TotalBudget
	if totalBudget <= 0 {
		totalBudget = budget.Total
	}

	pr := prune.Page(rawHTML, schemaName)
	prunedContext, prunedTokens, md := contextbuild.Build(contextbuild.BuildInput{
		RawHTML:    rawHTML,
		Pruned:     pr,
		PageType:   pageType,
		SchemaName: schemaName,
		MaxTokens:  maxPruned,
		LocaleCode: locale,
	})

	kept, dropped := budgetFilter(interactables, prunedTokens, totalBudget, pr.PrunedRegions)
	if dropped > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"%d interactive elements omitted to fit the token budget; the most relevant %d are shown",
			dropped, len(kept)))
	}

	metadata := metadataMap(md)
	metadata["_total_budget"] = totalBudget
	metadata["locale"] = locale
	metadata["schema"] = schemaName

	refs := make([]contextbuild.RefCandidate, len(kept))
	for i, el := range kept {
		refs[i] = contextbuild.RefCandidate{Ref: el.Ref, Name: el.Name, Region: el.Region}
	}
	if hints := contextbuild.BuildNavigationHints(rawHTML, refs, i18n.Get(locale)); !hints.Empty() {
		metadata["navigation_hints"] = hints
	}

	if opts.Observer != nil {
		opts.Observer(BuildObservation{
			URL:        pageURL,
			PageType:   pageType,
			SchemaName: schemaName,
			Pruned:     pr,
			Metadata:   metadata,
			RawHTML:    rawHTML,
		})
	}

	return &PageMap{
		URL:           pageURL,
		Title:         title,
		PageType:      pageType,
		Interactables: kept,
		PrunedContext: prunedContext,
		PrunedTokens:  prunedTokens,
		Images:        contextbuild.ExtractProductImages(rawHTML, pageURL),
		Metadata:      metadata,
		Warnings:      warnings,
	}
}

// markBlocked rewrites a page map for an anti-bot interstitial.
func markBlocked(pm *PageMap, marker string, status int) {
	pm.PageType = classify.Blocked
	info := map[string]any{"marker": marker}
	if status > 0 {
		info["http_status"] = status
	}
	pm.Metadata["blocked_info"] = info
	pm.Warnings = append(pm.Warnings, fmt.Sprintf(
		"anti-bot challenge detected (%s): page content is not the real page", marker))
}

// metadataMap flattens extracted metadata into the page-map metadata
// dictionary, skipping absent fields.
func metadataMap(md contextbuild.Metadata) map[string]any {
	out := make(map[string]any, 8)
	if md.Name != "" {
		out["name"] = md.Name
	}
	if md.Headline != "" {
		out["headline"] = md.Headline
	}
	if md.Price != nil {
		out["price"] = *md.Price
	}
	if md.Currency != "" {
		out["currency"] = md.Currency
	}
	if md.Brand != "" {
		out["brand"] = md.Brand
	}
	if md.Rating != nil {
		out["rating"] = *md.Rating
	}
	if md.ReviewCount != nil {
		out["review_count"] = *md.ReviewCount
	}
	if md.ImageURL != "" {
		out["image_url"] = md.ImageURL
	}
	if md.Author != "" {
		out["author"] = md.Author
	}
	if md.DatePublished != "" {
		out["date_published"] = md.DatePublished
	}
	if md.Publisher != "" {
		out["publisher"] = md.Publisher
	}
	if len(md.Items) > 0 {
		out["items"] = md.Items
	}
	if md.MCGActivated {
		out["mcg_activated"] = true
	}
	return out
}
