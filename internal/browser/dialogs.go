package browser

import (
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// maxDialogBuffer bounds the per-session dialog ring. A page that spams
// dialogs overwrites its oldest entries instead of growing memory.
const maxDialogBuffer = 32

// Dialog records one auto-handled JavaScript dialog.
type Dialog struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Dismissed bool   `json:"dismissed"`
}

// dialogRing is a bounded FIFO. Single writer (the CDP event goroutine),
// drained under the session's tool lock.
type dialogRing struct {
	mu      sync.Mutex
	max     int
	entries []Dialog
}

func newDialogRing(max int) *dialogRing {
	return &dialogRing{max: max}
}

func (r *dialogRing) push(d Dialog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, d)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
}

func (r *dialogRing) drain() []Dialog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries
	r.entries = nil
	return out
}

// dialogDecision returns whether a dialog type is accepted. Alerts are
// acknowledged, beforeunload is accepted so navigation proceeds, and
// anything asking a question is declined.
func dialogDecision(dialogType proto.PageDialogType) (accept bool, dismissed bool) {
	switch dialogType {
	case proto.PageDialogTypeAlert:
		return true, false
	case proto.PageDialogTypeBeforeunload:
		return true, false
	default: // confirm, prompt
		return false, true
	}
}

// attachDialogHandler auto-handles every JavaScript dialog and records
// it in the ring buffer. If the handle call itself fails, fall back to
// dismiss and record nothing.
func (s *rodSession) attachDialogHandler() {
	go s.page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		accept, dismissed := dialogDecision(e.Type)
		err := proto.PageHandleJavaScriptDialog{Accept: accept}.Call(s.page)
		if err != nil {
			_ = proto.PageHandleJavaScriptDialog{Accept: false}.Call(s.page)
			return
		}
		s.dialogs.push(Dialog{
			Type:      string(e.Type),
			Message:   e.Message,
			Dismissed: dismissed,
		})
	})()
}
