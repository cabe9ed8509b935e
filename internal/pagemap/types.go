// Package pagemap assembles the serialized view of a web page that an
// agent consumes: ref-addressed interactables plus a budgeted pruned
// context, with metadata and warnings.
package pagemap

import (
	"github.com/Retio-ai/pagemap/internal/detect"
)

// PageMap is the complete result of one build pass over a page.
// Interactable refs are contiguous 1..N, and PrunedTokens is the
// tokenizer count of PrunedContext.
type PageMap struct {
	URL           string                `json:"url"`
	Title         string                `json:"title"`
	PageType      string                `json:"page_type"`
	Interactables []detect.Interactable `json:"interactables"`
	PrunedContext string                `json:"pruned_context"`
	PrunedTokens  int                   `json:"pruned_tokens"`
	GenerationMS  float64               `json:"generation_ms"`
	Images        []string              `json:"images,omitempty"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
}

// Interactable is re-exported for callers that render page maps without
// importing the detector.
type Interactable = detect.Interactable
