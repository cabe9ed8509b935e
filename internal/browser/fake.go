package browser

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// FakeSession is an in-memory Session for tests. Zero value is usable:
// it reports alive with one tab and empty page state. All recorded
// slices are safe for concurrent access.
type FakeSession struct {
	mu sync.Mutex

	URL    string
	Title  string
	HTML   string
	Nodes  []*proto.AccessibilityAXNode
	PNG    []byte
	Dialog []Dialog

	Dead bool
	Tabs int

	// EvalFunc, when set, answers Eval calls. Otherwise Eval returns
	// EvalResult (or null).
	EvalFunc   func(js string) (json.RawMessage, error)
	EvalResult json.RawMessage

	// Selectors answers ResolveSelector by backend DOM node id.
	Selectors map[proto.DOMBackendNodeID]string

	NavigateErr   error
	AXErr         error
	ScreenshotErr error
	// ActionErr, when set, is returned by Click, Type, SelectOption,
	// and PressKey.
	ActionErr error

	Navigations []string
	Clicks      []string
	Typed       [][2]string
	Selected    [][2]string
	Pressed     []string
	GuardFunc   func(string) error
	StopCount   int
}

var _ Session = (*FakeSession)(nil)

func (f *FakeSession) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NavigateErr != nil {
		return f.NavigateErr
	}
	if f.GuardFunc != nil {
		if err := f.GuardFunc(url); err != nil {
			return err
		}
	}
	f.Navigations = append(f.Navigations, url)
	f.URL = url
	return nil
}

func (f *FakeSession) WaitNetworkIdle(context.Context, time.Duration, time.Duration) error {
	return nil
}

func (f *FakeSession) PageURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.URL
}

func (f *FakeSession) PageTitle() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Title, nil
}

func (f *FakeSession) PageHTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HTML, nil
}

func (f *FakeSession) Eval(_ context.Context, js string) (json.RawMessage, error) {
	f.mu.Lock()
	evalFunc := f.EvalFunc
	result := f.EvalResult
	f.mu.Unlock()
	if evalFunc != nil {
		return evalFunc(js)
	}
	if result == nil {
		return json.RawMessage("null"), nil
	}
	return result, nil
}

func (f *FakeSession) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActionErr != nil {
		return f.ActionErr
	}
	f.Clicks = append(f.Clicks, selector)
	return nil
}

func (f *FakeSession) Type(_ context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActionErr != nil {
		return f.ActionErr
	}
	f.Typed = append(f.Typed, [2]string{selector, text})
	return nil
}

func (f *FakeSession) SelectOption(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActionErr != nil {
		return f.ActionErr
	}
	f.Selected = append(f.Selected, [2]string{selector, value})
	return nil
}

func (f *FakeSession) PressKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActionErr != nil {
		return f.ActionErr
	}
	f.Pressed = append(f.Pressed, key)
	return nil
}

func (f *FakeSession) AXNodes(context.Context) ([]*proto.AccessibilityAXNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AXErr != nil {
		return nil, f.AXErr
	}
	return f.Nodes, nil
}

func (f *FakeSession) ResolveSelector(_ context.Context, backendID proto.DOMBackendNodeID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Selectors[backendID], nil
}

func (f *FakeSession) Screenshot(context.Context, bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScreenshotErr != nil {
		return nil, f.ScreenshotErr
	}
	return f.PNG, nil
}

func (f *FakeSession) DrainDialogs() []Dialog {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.Dialog
	f.Dialog = nil
	return out
}

func (f *FakeSession) IsAlive(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Dead
}

func (f *FakeSession) TabCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Tabs == 0 {
		return 1
	}
	return f.Tabs
}

func (f *FakeSession) InstallRouteGuard(validate func(string) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GuardFunc = validate
	return nil
}

func (f *FakeSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCount++
	return nil
}
