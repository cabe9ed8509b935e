package pagemap

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/Retio-ai/pagemap/internal/detect"
	"github.com/Retio-ai/pagemap/internal/sanitize"
)

// Offline extraction caps.
const (
	maxOfflineName    = 100
	maxOfflineOptions = 10
)

var (
	buttonRe = regexp.MustCompile(`(?is)<button\b([^>]*)>(.*?)</button>`)
	anchorRe = regexp.MustCompile(`(?is)<a\b([^>]*)>(.*?)</a>`)
	inputRe  = regexp.MustCompile(`(?i)<input\b([^>]*?)/?>`)
	selectRe = regexp.MustCompile(`(?is)<select\b([^>]*)>(.*?)</select>`)
	optionRe = regexp.MustCompile(`(?is)<option\b[^>]*>(.*?)</option>`)

	ariaLabelRe   = regexp.MustCompile(`(?i)aria-label=["']([^"']+)["']`)
	placeholderRe = regexp.MustCompile(`(?i)placeholder=["']([^"']+)["']`)
	inputNameRe   = regexp.MustCompile(`(?i)\bname=["']([^"']+)["']`)
	inputTypeRe   = regexp.MustCompile(`(?i)\btype=["']([^"']+)["']`)
	hiddenAttrRe  = regexp.MustCompile(`(?i)(?:type=["']hidden|disabled\b|style=["'][^"']*display:\s*none)`)
	innerTagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	titleRe       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

	// ctaRe keeps only action-oriented links: cart, purchase, order,
	// wishlist and their Korean e-commerce equivalents.
	ctaRe = regexp.MustCompile(`(?i)(장바구니|카트|구매|구입|주문|담기|바로구매` +
		`|add.to.(?:cart|bag|basket)|buy.now|purchase|checkout|order` +
		`|size.guide|사이즈\s*가이드` +
		`|wishlist|위시리스트|찜)`)
)

// inputRoleByType maps HTML input types to the role/affordance pair
// used for live detection. Unlisted types fall back to textbox.
var inputRoleByType = map[string][2]string{
	"text":     {"textbox", "type"},
	"search":   {"searchbox", "type"},
	"email":    {"textbox", "type"},
	"password": {"textbox", "type"},
	"tel":      {"textbox", "type"},
	"url":      {"textbox", "type"},
	"number":   {"spinbutton", "type"},
	"checkbox": {"checkbox", "click"},
	"radio":    {"radio", "click"},
}

// skippedInputTypes never become interactables in offline mode.
var skippedInputTypes = map[string]bool{
	"hidden": true,
	"submit": true,
	"image":  true,
	"reset":  true,
	"button": true,
}

func innerText(inner string) string {
	text := innerTagRe.ReplaceAllString(inner, " ")
	return strings.Join(strings.Fields(text), " ")
}

func elementName(attrs, inner string) string {
	if m := ariaLabelRe.FindStringSubmatch(attrs); m != nil {
		return strings.TrimSpace(m[1])
	}
	return innerText(inner)
}

// extractInteractablesOffline pulls interactive elements out of raw
// HTML without a browser: buttons, CTA links, typed inputs, selects
// with their leading options. Less accurate than the AX tree but it
// covers the common storefront patterns.
func extractInteractablesOffline(rawHTML string) []detect.Interactable {
	var items []detect.Interactable
	ref := 1

	add := func(el detect.Interactable) {
		el.Ref = ref
		items = append(items, el)
		ref++
	}

	for _, m := range buttonRe.FindAllStringSubmatch(rawHTML, -1) {
		attrs, inner := m[1], m[2]
		if hiddenAttrRe.MatchString(attrs) {
			continue
		}
		name := elementName(attrs, inner)
		if name == "" || len(name) > maxOfflineName {
			continue
		}
		add(detect.Interactable{Role: "button", Name: name, Affordance: "click", Region: "main", Tier: 2})
	}

	for _, m := range anchorRe.FindAllStringSubmatch(rawHTML, -1) {
		attrs, inner := m[1], m[2]
		name := elementName(attrs, inner)
		if name == "" || len(name) > maxOfflineName || !ctaRe.MatchString(name) {
			continue
		}
		add(detect.Interactable{Role: "link", Name: name, Affordance: "click", Region: "main", Tier: 2})
	}

	for _, m := range inputRe.FindAllStringSubmatch(rawHTML, -1) {
		attrs := m[1]
		inputType := "text"
		if tm := inputTypeRe.FindStringSubmatch(attrs); tm != nil {
			inputType = strings.ToLower(tm[1])
		}
		if skippedInputTypes[inputType] {
			continue
		}
		name := ""
		if am := ariaLabelRe.FindStringSubmatch(attrs); am != nil {
			name = strings.TrimSpace(am[1])
		} else if pm := placeholderRe.FindStringSubmatch(attrs); pm != nil {
			name = strings.TrimSpace(pm[1])
		} else if nm := inputNameRe.FindStringSubmatch(attrs); nm != nil {
			name = strings.TrimSpace(nm[1])
		}
		if name == "" || len(name) > maxOfflineName {
			continue
		}
		rolePair, ok := inputRoleByType[inputType]
		if !ok {
			rolePair = [2]string{"textbox", "type"}
		}
		add(detect.Interactable{Role: rolePair[0], Name: name, Affordance: rolePair[1], Region: "main", Tier: 1})
	}

	for _, m := range selectRe.FindAllStringSubmatch(rawHTML, -1) {
		attrs, inner := m[1], m[2]
		name := ""
		if am := ariaLabelRe.FindStringSubmatch(attrs); am != nil {
			name = strings.TrimSpace(am[1])
		} else if nm := inputNameRe.FindStringSubmatch(attrs); nm != nil {
			name = strings.TrimSpace(nm[1])
		}
		if name == "" || len(name) > maxOfflineName {
			continue
		}
		var options []string
		for _, om := range optionRe.FindAllStringSubmatch(inner, -1) {
			if len(options) == maxOfflineOptions {
				break
			}
			if label := innerText(om[1]); label != "" {
				options = append(options, sanitize.Text(label, maxOfflineName))
			}
		}
		add(detect.Interactable{Role: "combobox", Name: name, Affordance: "select", Region: "main", Tier: 1, Options: options})
	}

	return dedupeOffline(items)
}

// dedupeOffline keeps the first occurrence of each (role, lowercased
// name) pair and renumbers.
func dedupeOffline(items []detect.Interactable) []detect.Interactable {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, el := range items {
		key := el.Role + "\x00" + strings.ToLower(el.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, el)
	}
	for i := range out {
		out[i].Ref = i + 1
	}
	return out
}

// BuildOffline assembles a page map from raw HTML alone: same pruning
// and compression pipeline as the live build, interactables recovered
// by static extraction instead of the AX tree.
func BuildOffline(rawHTML, url string, opts BuildOptions) *PageMap {
	opts = opts.withDefaults()
	start := time.Now()

	if url == "" {
		url = "offline://unknown"
	}
	title := ""
	if m := titleRe.FindStringSubmatch(rawHTML); m != nil {
		title = strings.TrimSpace(innerText(m[1]))
	}

	pm := assemble(url, title, rawHTML, extractInteractablesOffline(rawHTML), nil, opts)
	pm.GenerationMS = roundMS(time.Since(start))
	pm.Metadata["navigation_strategy"] = "offline"

	if marker, status, blocked := classifyBlocked(context.Background(), nil, rawHTML); blocked {
		markBlocked(pm, marker, status)
	}
	return pm
}
