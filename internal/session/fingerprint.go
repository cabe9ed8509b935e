package session

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/Retio-ai/pagemap/internal/browser"
)

// domFingerprintJS reads the structural signals in one evaluation:
// a single querySelectorAll with JS-side bucketing plus a short text
// sample for content hashing.
const domFingerprintJS = `() => {
  const INTERACTIVE = 'button,[role=button],[role=link],[role=textbox],' +
    '[role=combobox],[role=checkbox],[role=radio],[role=menuitem],' +
    '[role=menuitemcheckbox],[role=menuitemradio],[role=tab],[role=treeitem],' +
    '[role=option],[role=gridcell],[role=switch],[role=slider],' +
    '[role=spinbutton],[role=searchbox],[role=listbox],' +
    'a[href],input:not([type=hidden]),select,textarea,' +
    '[tabindex]:not([tabindex="-1"])';
  const els = document.querySelectorAll(INTERACTIVE);
  const counts = {};
  for (const el of els) {
    const key = el.getAttribute('role') || el.tagName.toLowerCase();
    counts[key] = (counts[key] || 0) + 1;
  }
  return {
    interactiveCounts: counts,
    totalInteractives: els.length,
    hasDialog: !!document.querySelector(
      '[role=dialog],[role=alertdialog],dialog[open],[aria-modal="true"]'
    ),
    bodyChildCount: document.body ? document.body.children.length : 0,
    title: document.title || '',
    contentSample: document.body ? (document.body.innerText || '').slice(0, 1000) : ''
  };
}`

// DomFingerprint is a lightweight structural snapshot of the DOM used
// to classify changes that happen without URL navigation.
type DomFingerprint struct {
	InteractiveCounts map[string]int `json:"interactive_counts"`
	TotalInteractives int            `json:"total_interactives"`
	HasDialog         bool           `json:"has_dialog"`
	BodyChildCount    int            `json:"body_child_count"`
	Title             string         `json:"title"`
	ContentHash       string         `json:"content_hash"`
}

// DomChangeVerdict is the result of comparing two fingerprints.
type DomChangeVerdict struct {
	Changed  bool     `json:"changed"`
	Severity string   `json:"severity"`
	Reasons  []string `json:"reasons,omitempty"`
}

type rawFingerprint struct {
	InteractiveCounts map[string]int `json:"interactiveCounts"`
	TotalInteractives int            `json:"totalInteractives"`
	HasDialog         bool           `json:"hasDialog"`
	BodyChildCount    int            `json:"bodyChildCount"`
	Title             string         `json:"title"`
	ContentSample     string         `json:"contentSample"`
}

func hashContent(sample string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sample))
	return fmt.Sprintf("%016x", h.Sum64())
}

// CaptureFingerprint snapshots the current DOM. Returns nil on any
// browser failure; callers treat a missing fingerprint as "unknown",
// never as an error.
func CaptureFingerprint(ctx context.Context, sess browser.Session) *DomFingerprint {
	raw, err := sess.Eval(ctx, domFingerprintJS)
	if err != nil {
		return nil
	}
	var fp rawFingerprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		return nil
	}
	return &DomFingerprint{
		InteractiveCounts: fp.InteractiveCounts,
		TotalInteractives: fp.TotalInteractives,
		HasDialog:         fp.HasDialog,
		BodyChildCount:    fp.BodyChildCount,
		Title:             fp.Title,
		ContentHash:       hashContent(fp.ContentSample),
	}
}

// Change severity thresholds: an interactive-count swing larger than
// either bound is a major change.
const (
	majorCountDelta = 3
	majorCountRatio = 0.20
)

// CompareFingerprints classifies the difference between two snapshots.
// Either side nil means severity "none" (graceful skip).
func CompareFingerprints(before, after *DomFingerprint) DomChangeVerdict {
	if before == nil || after == nil {
		return DomChangeVerdict{Severity: "none"}
	}

	var major []string
	if before.Title != after.Title {
		major = append(major, "title changed")
	}
	if !before.HasDialog && after.HasDialog {
		major = append(major, "dialog appeared")
	}

	diff := after.TotalInteractives - before.TotalInteractives
	absDiff := diff
	if absDiff < 0 {
		absDiff = -absDiff
	}
	if absDiff > 0 {
		base := before.TotalInteractives
		if base < 1 {
			base = 1
		}
		pct := float64(absDiff) / float64(base)
		if absDiff > majorCountDelta || pct > majorCountRatio {
			direction := "increased"
			if diff < 0 {
				direction = "decreased"
			}
			major = append(major, fmt.Sprintf(
				"interactive elements %s by %d (%.0f%%)", direction, absDiff, pct*100))
		}
	}
	if len(major) > 0 {
		return DomChangeVerdict{Changed: true, Severity: "major", Reasons: major}
	}

	var minor []string
	if absDiff > 0 {
		minor = append(minor, fmt.Sprintf("interactive count changed by %d", absDiff))
	}
	if before.BodyChildCount != after.BodyChildCount && absDiff == 0 {
		minor = append(minor, "body child count changed")
	}
	if before.ContentHash != after.ContentHash && len(minor) == 0 {
		minor = append(minor, "content changed")
	}
	if len(minor) > 0 {
		return DomChangeVerdict{Changed: true, Severity: "minor", Reasons: minor}
	}
	return DomChangeVerdict{Severity: "none"}
}
