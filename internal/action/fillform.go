package action

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/browser"
	"github.com/Retio-ai/pagemap/internal/detect"
	"github.com/Retio-ai/pagemap/internal/pagemap"
	"github.com/Retio-ai/pagemap/internal/pagemaperr"
	"github.com/Retio-ai/pagemap/internal/session"
	"github.com/Retio-ai/pagemap/internal/telemetry"
)

// FormField is one ref/value pair to type.
type FormField struct {
	Ref   int    `json:"ref"`
	Value string `json:"value"`
}

// FillFormRequest fills several fields in one call, optionally clicking
// a submit control afterwards.
type FillFormRequest struct {
	Fields    []FormField
	SubmitRef *int
}

// FieldResult reports one field's outcome.
type FieldResult struct {
	Ref    int    `json:"ref"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// FillFormResult is the structured outcome of a fill_form call.
type FillFormResult struct {
	Fields      []FieldResult    `json:"fields"`
	Submitted   bool             `json:"submitted"`
	Description string           `json:"description"`
	CurrentURL  string           `json:"current_url"`
	Change      string           `json:"change"`
	RefsExpired bool             `json:"refs_expired"`
	DOMReasons  []string         `json:"dom_change_reasons,omitempty"`
	Dialogs     []browser.Dialog `json:"dialogs,omitempty"`
}

// FillForm types into every field, clicks the optional submit ref, then
// classifies the DOM change once for the whole batch. All refs are
// validated before the page is touched, so a bad ref never leaves a
// form half-filled.
func (x *Executor) FillForm(ctx context.Context, sess browser.Session, cache *session.PageMapCache, req FillFormRequest) (*FillFormResult, error) {
	if len(req.Fields) == 0 {
		return nil, &InputError{msg: "'fields' must be a non-empty array of {ref, value} objects."}
	}

	entry := cache.ActiveEntry()
	if entry == nil || entry.PageMap == nil {
		return nil, pagemaperr.ErrNoActivePageMap
	}
	pm := entry.PageMap

	targets := make([]*detect.Interactable, len(req.Fields))
	for i, f := range req.Fields {
		if n := utf8.RuneCountInString(f.Value); n > MaxTypeValueLength {
			return nil, inputErrorf("field [%d] value too long (%d chars, max %d).", f.Ref, n, MaxTypeValueLength)
		}
		t := findRef(pm, f.Ref)
		if t == nil {
			return nil, refNotFound(f.Ref, len(pm.Interactables))
		}
		targets[i] = t
	}
	var submit *detect.Interactable
	if req.SubmitRef != nil {
		if submit = findRef(pm, *req.SubmitRef); submit == nil {
			return nil, refNotFound(*req.SubmitRef, len(pm.Interactables))
		}
	}

	x.logger.Info("fill_form",
		zap.Int("fields", len(req.Fields)),
		zap.Bool("has_submit", submit != nil))

	res := &FillFormResult{}
	filled := 0
	for i, f := range req.Fields {
		fr := FieldResult{Ref: f.Ref, Name: targets[i].Name, Status: "filled"}
		selector, err := x.locate(ctx, sess, targets[i])
		if err == nil {
			err = sess.Type(ctx, selector, f.Value)
		}
		if err != nil {
			fr.Status = "error"
			fr.Error = err.Error()
		} else {
			filled++
		}
		res.Fields = append(res.Fields, fr)
	}

	res.Description = fmt.Sprintf("Filled %d of %d fields", filled, len(req.Fields))
	if submit != nil {
		selector, err := x.locate(ctx, sess, submit)
		if err == nil {
			err = sess.Click(ctx, selector)
		}
		if err != nil {
			res.Description += fmt.Sprintf("; submit click on [%d] failed: %v", *req.SubmitRef, err)
		} else {
			res.Submitted = true
			res.Description += fmt.Sprintf(" and clicked [%d] %s", *req.SubmitRef, submit.Name)
			x.settle(ctx, x.clickSettle)
		}
	}

	res.Dialogs = sess.DrainDialogs()
	res.CurrentURL = sess.PageURL()

	if res.CurrentURL != pm.URL {
		cache.Invalidate(session.InvalidateNavigation)
		res.Change = "navigation"
		res.RefsExpired = true
		x.logger.Info("fill_form navigated",
			zap.String("from", pm.URL), zap.String("to", res.CurrentURL))
		return res, nil
	}

	after := session.CaptureFingerprint(ctx, sess)
	verdict := session.CompareFingerprints(entry.Fingerprint, after)
	res.Change = verdict.Severity
	res.DOMReasons = verdict.Reasons
	x.collector.Emit(telemetry.FillFormDOMChange{Severity: verdict.Severity, Reasons: verdict.Reasons}, "")

	// Typed values are not reflected in the stored map, so the active
	// entry goes stale either way.
	if verdict.Severity == "major" {
		cache.Invalidate(session.InvalidateDOMMajor)
	} else {
		cache.Invalidate(session.InvalidateFillForm)
	}
	res.RefsExpired = true
	return res, nil
}

// findRef returns the interactable with the given ref, or nil.
func findRef(pm *pagemap.PageMap, ref int) *detect.Interactable {
	for i := range pm.Interactables {
		if pm.Interactables[i].Ref == ref {
			return &pm.Interactables[i]
		}
	}
	return nil
}

func refNotFound(ref, valid int) *InputError {
	return inputErrorf("ref [%d] not found. Valid refs: 1-%d", ref, valid)
}
