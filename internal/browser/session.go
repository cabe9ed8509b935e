// Package browser owns the headless Chrome lifecycle: a pooled browser
// process with per-session incognito contexts, dialog auto-handling,
// and an SSRF route guard that re-validates every top-level navigation.
package browser

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Retio-ai/pagemap/internal/pagemaperr"
)

const (
	// DefaultUserAgent mimics a current desktop Chrome. The bot UA is
	// substituted by config when --bot-ua is set.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"

	DefaultLocale = "ko-KR"

	defaultViewportWidth  = 1280
	defaultViewportHeight = 800

	elementTimeout = 5 * time.Second
	aliveTimeout   = 5 * time.Second
)

// Config holds browser launch and page configuration.
type Config struct {
	Headless          bool
	Locale            string
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	NavigationTimeout time.Duration
}

// DefaultConfig returns the hardened headless defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		Locale:            DefaultLocale,
		ViewportWidth:     defaultViewportWidth,
		ViewportHeight:    defaultViewportHeight,
		UserAgent:         DefaultUserAgent,
		NavigationTimeout: 30 * time.Second,
	}
}

// Session is one isolated browsing context with a single primary page.
// Eval expects a JS function expression ("() => ...") per CDP calling
// convention.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitNetworkIdle(ctx context.Context, quiet, budget time.Duration) error
	PageURL() string
	PageTitle() (string, error)
	PageHTML(ctx context.Context) (string, error)
	Eval(ctx context.Context, js string) (json.RawMessage, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	SelectOption(ctx context.Context, selector, value string) error
	PressKey(ctx context.Context, key string) error
	AXNodes(ctx context.Context) ([]*proto.AccessibilityAXNode, error)
	ResolveSelector(ctx context.Context, backendID proto.DOMBackendNodeID) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	DrainDialogs() []Dialog
	IsAlive(ctx context.Context) bool
	TabCount() int
	InstallRouteGuard(validate func(string) error) error
	Stop() error
}

// keyMap translates executor key names to CDP key definitions. The
// executor's whitelist is a subset of these names.
var keyMap = map[string]input.Key{
	"Enter":      input.Enter,
	"Escape":     input.Escape,
	"Tab":        input.Tab,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"Space":      input.Space,
	"F1":         input.F1,
	"F2":         input.F2,
	"F3":         input.F3,
	"F4":         input.F4,
	"F5":         input.F5,
	"F6":         input.F6,
	"F7":         input.F7,
	"F8":         input.F8,
	"F9":         input.F9,
	"F10":        input.F10,
	"F11":        input.F11,
	"F12":        input.F12,
}

// modifierMap translates combo prefixes ("Control+a") to held keys.
var modifierMap = map[string]input.Key{
	"Shift":   input.ShiftLeft,
	"Control": input.ControlLeft,
	"Alt":     input.AltLeft,
	"Meta":    input.MetaLeft,
}

// rodSession wraps one incognito context and its page. ownsBrowser
// distinguishes standalone sessions (stop closes the whole browser)
// from pooled sessions (stop disposes only the context).
type rodSession struct {
	cfg         Config
	browser     *rod.Browser
	page        *rod.Page
	launch      *launcher.Launcher
	ownsBrowser bool

	dialogs *dialogRing

	mu         sync.Mutex
	routerStop func()
	stopped    bool
}

// NewStandaloneSession launches a private browser process for one
// session. Used by the one-shot build CLI; the server uses the pool.
func NewStandaloneSession(cfg Config) (Session, error) {
	launch := launcher.New().Headless(cfg.Headless)
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, &pagemaperr.BrowserDeadError{Cause: err}
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		launch.Cleanup()
		return nil, &pagemaperr.BrowserDeadError{Cause: err}
	}
	s, err := newSession(b, cfg)
	if err != nil {
		_ = b.Close()
		launch.Cleanup()
		return nil, err
	}
	rs := s.(*rodSession)
	rs.ownsBrowser = true
	rs.launch = launch
	return rs, nil
}

// newSession creates an incognito context with one page on a connected
// browser.
func newSession(b *rod.Browser, cfg Config) (Session, error) {
	incognito, err := b.Incognito()
	if err != nil {
		return nil, &pagemaperr.BrowserDeadError{Cause: err}
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, &pagemaperr.BrowserDeadError{Cause: err}
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		_ = page.Close()
		return nil, &pagemaperr.BrowserDeadError{Cause: err}
	}
	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: cfg.Locale,
	}).Call(page); err != nil {
		_ = page.Close()
		return nil, &pagemaperr.BrowserDeadError{Cause: err}
	}

	s := &rodSession{
		cfg:     cfg,
		browser: incognito,
		page:    page,
		dialogs: newDialogRing(maxDialogBuffer),
	}
	s.attachDialogHandler()
	return s, nil
}

type unknownKeyError struct{ key string }

func (e *unknownKeyError) Error() string { return "unsupported key: " + e.key }

func errorfUnknownKey(key string) error { return &unknownKeyError{key: key} }

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Navigate goes to a URL and waits for the load event. Switching to a
// different host clears cookies first so sessions never leak state
// across sites.
func (s *rodSession) Navigate(ctx context.Context, target string) error {
	if cur := s.PageURL(); cur != "" && cur != "about:blank" {
		curHost, newHost := hostOf(cur), hostOf(target)
		if curHost != "" && newHost != "" && curHost != newHost {
			_ = s.browser.SetCookies(nil)
		}
	}
	page := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout)
	if err := page.Navigate(target); err != nil {
		return err
	}
	return page.WaitLoad()
}

// WaitNetworkIdle blocks until no network request has been in flight
// for quiet, or budget elapses.
func (s *rodSession) WaitNetworkIdle(ctx context.Context, quiet, budget time.Duration) error {
	page := s.page.Context(ctx).Timeout(budget)
	wait := page.WaitRequestIdle(quiet, nil, nil, nil)
	wait()
	return ctx.Err()
}

func (s *rodSession) PageURL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *rodSession) PageTitle() (string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (s *rodSession) PageHTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return nil, err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (s *rodSession) element(ctx context.Context, selector string) (*rod.Element, error) {
	return s.page.Context(ctx).Timeout(elementTimeout).Element(selector)
}

func (s *rodSession) Click(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (s *rodSession) Type(ctx context.Context, selector, text string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (s *rodSession) SelectOption(ctx context.Context, selector, value string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Select([]string{value}, true, rod.SelectorTypeText)
}

func (s *rodSession) PressKey(ctx context.Context, key string) error {
	page := s.page.Context(ctx)
	if mod, base, isCombo := strings.Cut(key, "+"); isCombo {
		held, ok := modifierMap[mod]
		if !ok {
			return errorfUnknownKey(key)
		}
		k, err := baseKey(base)
		if err != nil {
			return errorfUnknownKey(key)
		}
		return page.KeyActions().Press(held).Type(k).Do()
	}
	if k, ok := keyMap[key]; ok {
		return page.Keyboard.Press(k)
	}
	// Single printable characters are typed directly.
	runes := []rune(key)
	if len(runes) == 1 {
		return page.Keyboard.Type(input.Key(runes[0]))
	}
	return errorfUnknownKey(key)
}

// baseKey resolves a key name to a CDP key. Single printable
// characters map directly; everything else goes through keyMap.
func baseKey(name string) (input.Key, error) {
	if k, ok := keyMap[name]; ok {
		return k, nil
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return input.Key(runes[0]), nil
	}
	return 0, errorfUnknownKey(name)
}

func (s *rodSession) AXNodes(ctx context.Context) ([]*proto.AccessibilityAXNode, error) {
	res, err := proto.AccessibilityGetFullAXTree{}.Call(s.page.Context(ctx))
	if err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

func (s *rodSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(fullPage, nil)
}

func (s *rodSession) DrainDialogs() []Dialog {
	return s.dialogs.drain()
}

// IsAlive is a two-stage health check: the page handle exists and the
// page answers a trivial evaluation within a short timeout.
func (s *rodSession) IsAlive(ctx context.Context) bool {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped || s.page == nil {
		return false
	}
	_, err := s.page.Context(ctx).Timeout(aliveTimeout).Eval("() => 1")
	return err == nil
}

func (s *rodSession) TabCount() int {
	pages, err := s.browser.Pages()
	if err != nil {
		return 1
	}
	return len(pages)
}

// Stop tears the session down. Pooled sessions dispose only their
// incognito context; standalone sessions also close the browser and
// clean up the launcher. Safe to call on a dead browser and safe to
// call twice.
func (s *rodSession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	routerStop := s.routerStop
	s.mu.Unlock()

	if routerStop != nil {
		routerStop()
	}
	_ = s.page.Close()
	if s.browser.BrowserContextID != "" {
		_ = proto.TargetDisposeBrowserContext{
			BrowserContextID: s.browser.BrowserContextID,
		}.Call(s.browser)
	}
	if s.ownsBrowser {
		err := s.browser.Close()
		if s.launch != nil {
			s.launch.Cleanup()
		}
		return err
	}
	return nil
}
