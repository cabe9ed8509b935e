// Package action validates and executes the fixed agent action
// vocabulary (click, type, select, press_key) against a live page and
// classifies what the action did: navigation, major or minor DOM
// change, or nothing.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/browser"
	"github.com/Retio-ai/pagemap/internal/detect"
	"github.com/Retio-ai/pagemap/internal/pagemaperr"
	"github.com/Retio-ai/pagemap/internal/session"
	"github.com/Retio-ai/pagemap/internal/telemetry"
)

// Action names accepted by execute_action.
const (
	ActionClick    = "click"
	ActionType     = "type"
	ActionSelect   = "select"
	ActionPressKey = "press_key"
)

// Value caps. A type value is what gets filled into an input; a select
// value matches an option label.
const (
	MaxTypeValueLength   = 1000
	MaxSelectValueLength = 500
)

// Post-action settle windows. A click can start a navigation that
// needs a moment to surface; a key press (Enter submitting a form)
// needs less.
const (
	defaultClickSettle = time.Second
	defaultKeySettle   = 500 * time.Millisecond
)

var validActions = map[string]bool{
	ActionClick:    true,
	ActionType:     true,
	ActionSelect:   true,
	ActionPressKey: true,
}

// allowedKeys is the press_key whitelist: navigation and editing keys
// plus the function row. Nothing here closes tabs or quits the browser.
var allowedKeys = map[string]bool{
	"Enter":      true,
	"Tab":        true,
	"Escape":     true,
	"Space":      true,
	"Backspace":  true,
	"Delete":     true,
	"ArrowUp":    true,
	"ArrowDown":  true,
	"ArrowLeft":  true,
	"ArrowRight": true,
	"Home":       true,
	"End":        true,
	"PageUp":     true,
	"PageDown":   true,
	"F1":         true,
	"F2":         true,
	"F3":         true,
	"F4":         true,
	"F5":         true,
	"F6":         true,
	"F7":         true,
	"F8":         true,
	"F9":         true,
	"F10":        true,
	"F11":        true,
	"F12":        true,
}

// allowedCombos whitelists modifier shortcuts. Combos that close tabs
// or quit applications (Control+w, Control+q, Alt+F4, Meta+q) are
// never added here.
var allowedCombos = map[string]bool{
	"Shift+Tab": true,
	"Control+a": true,
	"Control+c": true,
	"Control+v": true,
	"Control+x": true,
	"Meta+a":    true,
	"Meta+c":    true,
	"Meta+v":    true,
	"Meta+x":    true,
}

var (
	validActionList  = joinSorted(validActions)
	allowedKeyList   = joinSorted(allowedKeys)
	allowedComboList = joinSorted(allowedCombos)
)

func joinSorted(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Request is one execute_action invocation. Value is a pointer so a
// missing parameter is distinguishable from an empty string.
type Request struct {
	Ref    int     `json:"ref"`
	Action string  `json:"action"`
	Value  *string `json:"value,omitempty"`
}

// Result reports one executed action back to the agent.
type Result struct {
	Description string           `json:"description"`
	CurrentURL  string           `json:"current_url"`
	Change      string           `json:"change"`
	RefsExpired bool             `json:"refs_expired,omitempty"`
	DOMReasons  []string         `json:"dom_change_reasons,omitempty"`
	Dialogs     []browser.Dialog `json:"dialogs,omitempty"`
}

// InputError is a user-correctable request problem. Its message is
// sent to the agent verbatim.
type InputError struct{ msg string }

func (e *InputError) Error() string { return e.msg }

func inputErrorf(format string, args ...any) *InputError {
	return &InputError{msg: fmt.Sprintf(format, args...)}
}

// NewInputError builds a user-correctable error for other packages that
// validate tool arguments.
func NewInputError(format string, args ...any) *InputError {
	return inputErrorf(format, args...)
}

// Validate checks the action name and value shape. Ref validation
// needs the active page map and happens in Execute.
func Validate(req Request) error {
	if !validActions[req.Action] {
		return inputErrorf("Invalid action '%s'. Allowed: %s", req.Action, validActionList)
	}
	switch req.Action {
	case ActionType:
		if req.Value == nil {
			return &InputError{msg: "'value' parameter required for type action."}
		}
		if n := utf8.RuneCountInString(*req.Value); n > MaxTypeValueLength {
			return inputErrorf("type value too long (%d chars, max %d).", n, MaxTypeValueLength)
		}
	case ActionSelect:
		if req.Value == nil {
			return &InputError{msg: "'value' parameter required for select action."}
		}
		if n := utf8.RuneCountInString(*req.Value); n > MaxSelectValueLength {
			return inputErrorf("select value too long (%d chars, max %d).", n, MaxSelectValueLength)
		}
	case ActionPressKey:
		if req.Value == nil {
			return &InputError{msg: "'value' parameter required for press_key action (e.g., 'Enter')."}
		}
		if !allowedKeys[*req.Value] && !allowedCombos[*req.Value] {
			return inputErrorf("key '%s' is not allowed. Allowed keys: %s. Allowed combos: %s.",
				*req.Value, allowedKeyList, allowedComboList)
		}
	}
	return nil
}

// Executor runs validated actions for one tool call. The caller holds
// the session's tool lock for the duration.
type Executor struct {
	logger    *zap.Logger
	collector *telemetry.Collector

	clickSettle time.Duration
	keySettle   time.Duration
}

// NewExecutor builds an executor with the default settle windows.
func NewExecutor(logger *zap.Logger, collector *telemetry.Collector) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger:      logger,
		collector:   collector,
		clickSettle: defaultClickSettle,
		keySettle:   defaultKeySettle,
	}
}

// Execute performs one action against the session's page. The target
// ref resolves against the cache's active page map; a URL change hard
// invalidates it, a major DOM change soft invalidates it, and either
// way refs_expired tells the agent to call get_page_map again.
func (x *Executor) Execute(ctx context.Context, sess browser.Session, cache *session.PageMapCache, req Request) (*Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	entry := cache.ActiveEntry()
	if entry == nil || entry.PageMap == nil {
		return nil, pagemaperr.ErrNoActivePageMap
	}
	pm := entry.PageMap

	target := findRef(pm, req.Ref)
	if target == nil {
		return nil, refNotFound(req.Ref, len(pm.Interactables))
	}

	x.collector.Emit(telemetry.ActionStart{
		Ref:        req.Ref,
		Action:     req.Action,
		Role:       target.Role,
		Affordance: target.Affordance,
	}, "")
	x.logger.Info("execute_action",
		zap.Int("ref", req.Ref),
		zap.String("action", req.Action),
		zap.String("role", target.Role))

	var description string
	switch req.Action {
	case ActionClick:
		selector, err := x.locate(ctx, sess, target)
		if err != nil {
			return nil, err
		}
		if err := sess.Click(ctx, selector); err != nil {
			return nil, fmt.Errorf("click [%d] %s: %w", req.Ref, target.Role, err)
		}
		x.settle(ctx, x.clickSettle)
		description = fmt.Sprintf("Clicked [%d] %s: %s", req.Ref, target.Role, target.Name)

	case ActionType:
		selector, err := x.locate(ctx, sess, target)
		if err != nil {
			return nil, err
		}
		if err := sess.Type(ctx, selector, *req.Value); err != nil {
			return nil, fmt.Errorf("type into [%d] %s: %w", req.Ref, target.Role, err)
		}
		description = fmt.Sprintf("Typed into [%d] %s: %s", req.Ref, target.Role, target.Name)

	case ActionSelect:
		selector, err := x.locate(ctx, sess, target)
		if err != nil {
			return nil, err
		}
		if err := sess.SelectOption(ctx, selector, *req.Value); err != nil {
			return nil, fmt.Errorf("select in [%d] %s: %w", req.Ref, target.Role, err)
		}
		description = fmt.Sprintf("Selected option in [%d] %s: %s", req.Ref, target.Role, target.Name)

	case ActionPressKey:
		if err := sess.PressKey(ctx, *req.Value); err != nil {
			return nil, fmt.Errorf("press key %q: %w", *req.Value, err)
		}
		x.settle(ctx, x.keySettle)
		description = fmt.Sprintf("Pressed key '%s'", *req.Value)
	}

	dialogs := sess.DrainDialogs()
	currentURL := sess.PageURL()
	res := &Result{
		Description: description,
		CurrentURL:  currentURL,
		Dialogs:     dialogs,
	}

	if currentURL != pm.URL {
		cache.Invalidate(session.InvalidateNavigation)
		res.Change = "navigation"
		res.RefsExpired = true
		x.logger.Info("action navigated",
			zap.String("from", pm.URL),
			zap.String("to", currentURL))
		x.collector.Emit(telemetry.ActionResult{Change: res.Change, RefsExpired: true}, "")
		return res, nil
	}

	after := session.CaptureFingerprint(ctx, sess)
	verdict := session.CompareFingerprints(entry.Fingerprint, after)
	res.Change = verdict.Severity
	res.DOMReasons = verdict.Reasons
	if verdict.Severity == "major" {
		cache.Invalidate(session.InvalidateDOMMajor)
		res.RefsExpired = true
	}
	x.collector.Emit(telemetry.ActionDOMChange{Severity: verdict.Severity, Reasons: verdict.Reasons}, "")
	x.collector.Emit(telemetry.ActionResult{Change: res.Change, RefsExpired: res.RefsExpired}, "")
	return res, nil
}

// targetSelector addresses the element marked by roleLocatorJS.
const targetSelector = `[data-pagemap-target="1"]`

// roleLocatorJS marks the first element matching an ARIA role and
// accessible name so actions hit the element the agent saw even after
// the detect-time CSS path has rotted. Name matching is
// case-insensitive substring, whitespace-normalized. Returns the match
// count; ambiguity resolves to the first match in document order.
const roleLocatorJS = `(() => {
    const role = %s, name = %s;
    document.querySelectorAll("[data-pagemap-target]").forEach((el) => {
        el.removeAttribute("data-pagemap-target");
    });
    const implicit = {
        a: "link", button: "button", select: "combobox",
        textarea: "textbox", summary: "button", option: "option",
    };
    const inputRoles = {
        text: "textbox", search: "searchbox", email: "textbox",
        password: "textbox", tel: "textbox", url: "textbox",
        number: "spinbutton", checkbox: "checkbox", radio: "radio",
        range: "slider", submit: "button", button: "button",
        reset: "button",
    };
    const roleOf = (el) => {
        const r = el.getAttribute("role");
        if (r) return r.trim().toLowerCase();
        const tag = el.localName;
        if (tag === "input") {
            return inputRoles[(el.type || "text").toLowerCase()] || "textbox";
        }
        if (tag === "a") return el.hasAttribute("href") ? "link" : "";
        return implicit[tag] || "";
    };
    const nameOf = (el) => {
        const aria = el.getAttribute("aria-label");
        if (aria) return aria.trim();
        if (el.labels && el.labels.length) {
            return el.labels[0].textContent.trim();
        }
        const ph = el.getAttribute("placeholder");
        if (ph) return ph.trim();
        const alt = el.getAttribute("alt");
        if (alt) return alt.trim();
        const title = el.getAttribute("title");
        if (title) return title.trim();
        return (el.textContent || "").trim().replace(/\s+/g, " ");
    };
    const want = name.trim().replace(/\s+/g, " ").toLowerCase();
    const matches = [];
    const candidates = document.querySelectorAll(
        "a,button,input,select,textarea,summary,option,[role]");
    for (const el of candidates) {
        if (roleOf(el) !== role) continue;
        const have = nameOf(el).toLowerCase();
        if (!want || have === want || (want.length > 2 && have.includes(want))) {
            matches.push(el);
        }
    }
    if (matches.length > 0) {
        matches[0].setAttribute("data-pagemap-target", "1");
    }
    return matches.length;
})()`

// locate resolves the element to act on: role+name matching in-page
// first, the stored CSS selector as fallback.
func (x *Executor) locate(ctx context.Context, sess browser.Session, target *detect.Interactable) (string, error) {
	roleJSON, _ := json.Marshal(target.Role)
	nameJSON, _ := json.Marshal(target.Name)
	raw, err := sess.Eval(ctx, fmt.Sprintf(roleLocatorJS, roleJSON, nameJSON))
	if err == nil {
		var count int
		if jsonErr := json.Unmarshal(raw, &count); jsonErr == nil && count > 0 {
			if count > 1 {
				x.logger.Debug("ambiguous role+name match, using first",
					zap.String("role", target.Role),
					zap.String("name", target.Name),
					zap.Int("matches", count))
			}
			return targetSelector, nil
		}
	}
	if target.Selector != "" {
		return target.Selector, nil
	}
	return "", inputErrorf(
		"ref [%d] could not be located on the current page. Call get_page_map to refresh refs.", target.Ref)
}

func (x *Executor) settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
