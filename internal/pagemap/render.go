package pagemap

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Retio-ai/pagemap/internal/detect"
	"github.com/Retio-ai/pagemap/internal/sanitize"
	"github.com/Retio-ai/pagemap/internal/tokens"
)

const (
	maxPromptOptions = 8
	maxPromptImages  = 5
	maxOptionPrompt  = 100
)

// actionLine renders one interactable as its Actions-section line. The
// budget filter prices elements with exactly this serialization.
func actionLine(el detect.Interactable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s: %s (%s)", el.Ref, el.Role, sanitize.Text(el.Name, 0), el.Affordance)
	if el.Value != "" {
		fmt.Fprintf(&b, " value=%q", sanitize.Text(el.Value, 0))
	}
	if len(el.Options) > 0 {
		opts := make([]string, 0, maxPromptOptions)
		for i, o := range el.Options {
			if i == maxPromptOptions {
				break
			}
			opts = append(opts, sanitize.Text(o, maxOptionPrompt))
		}
		joined := strings.Join(opts, ",")
		if len(el.Options) > maxPromptOptions {
			joined += fmt.Sprintf("...+%d", len(el.Options)-maxPromptOptions)
		}
		fmt.Fprintf(&b, " options=[%s]", joined)
	}
	return b.String()
}

// AgentPrompt serializes a page map into the minimal-token format an
// LLM agent consumes:
//
//	URL: shop.example.com/products/123
//	Type: product_detail
//
//	## Actions
//	[1] searchbox: 검색 (type)
//	[2] button: 장바구니 담기 (click)
//
//	## Info
//	<content boundary wrapped pruned context>
//
// includeMeta appends approximate token counts and generation time.
func AgentPrompt(pm *PageMap, includeMeta bool) string {
	var lines []string

	lines = append(lines, "URL: "+pm.URL)
	if pm.Title != "" {
		lines = append(lines, "Title: "+sanitize.Text(pm.Title, 0))
	}
	lines = append(lines, "Type: "+pm.PageType, "")

	if len(pm.Interactables) > 0 {
		lines = append(lines, "## Actions")
		for _, el := range pm.Interactables {
			lines = append(lines, actionLine(el))
		}
		lines = append(lines, "")
	}

	if pm.PrunedContext != "" {
		lines = append(lines, "## Info")
		lines = append(lines, sanitize.AddContentBoundary(sanitize.ContentBlock(pm.PrunedContext, 0), pm.URL))
		lines = append(lines, "")
	}

	if len(pm.Images) > 0 {
		lines = append(lines, "## Images")
		for i, u := range pm.Images {
			if i == maxPromptImages {
				break
			}
			lines = append(lines, fmt.Sprintf("  [%d] %s", i+1, u))
		}
		lines = append(lines, "")
	}

	if len(pm.Warnings) > 0 {
		lines = append(lines, "## Warnings")
		for _, w := range pm.Warnings {
			lines = append(lines, "- "+sanitize.Text(w, 0))
		}
		lines = append(lines, "")
	}

	if includeMeta {
		promptSoFar := strings.Join(lines, "\n")
		lines = append(lines, "## Meta")
		lines = append(lines, fmt.Sprintf("Tokens: ~%d", tokens.Count(promptSoFar)))
		lines = append(lines, fmt.Sprintf("Interactables: %d", len(pm.Interactables)))
		lines = append(lines, fmt.Sprintf("Generation: %.0fms", pm.GenerationMS))
	}

	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// ToMarkdown renders the page map as a standalone Markdown document
// with an actions table. The CLI build command uses it for human
// review; agents get AgentPrompt instead.
func ToMarkdown(pm *PageMap) string {
	var b strings.Builder

	title := sanitize.Text(pm.Title, 0)
	if title == "" {
		title = pm.URL
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**URL:** %s\n\n**Type:** %s\n\n", pm.URL, pm.PageType)

	if len(pm.Interactables) > 0 {
		b.WriteString("## Actions\n\n")
		b.WriteString("| Ref | Role | Name | Affordance |\n")
		b.WriteString("|-----|------|------|------------|\n")
		for _, el := range pm.Interactables {
			fmt.Fprintf(&b, "| %d | %s | %s | %s |\n",
				el.Ref, el.Role, mdCell(sanitize.Text(el.Name, 0)), el.Affordance)
		}
		b.WriteString("\n")
	}

	if pm.PrunedContext != "" {
		b.WriteString("## Content\n\n")
		b.WriteString(sanitize.AddContentBoundary(sanitize.ContentBlock(pm.PrunedContext, 0), pm.URL))
		b.WriteString("\n\n")
	}

	if len(pm.Images) > 0 {
		b.WriteString("## Images\n\n")
		for i, u := range pm.Images {
			if i == maxPromptImages {
				break
			}
			fmt.Fprintf(&b, "- %s\n", u)
		}
		b.WriteString("\n")
	}

	if len(pm.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range pm.Warnings {
			fmt.Fprintf(&b, "- %s\n", sanitize.Text(w, 0))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Meta\n\n- Interactables: %d\n- Pruned tokens: %d\n- Generation: %.0fms\n",
		len(pm.Interactables), pm.PrunedTokens, pm.GenerationMS)

	return b.String()
}

// mdCell keeps table cells to one column.
func mdCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// jsonView is the wire shape of a page map: interactable-level
// omitempty plus a meta block with derived counts.
type jsonView struct {
	URL           string                `json:"url"`
	Title         string                `json:"title"`
	PageType      string                `json:"page_type"`
	Interactables []detect.Interactable `json:"interactables"`
	PrunedContext string                `json:"pruned_context"`
	Images        []string              `json:"images"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
	Meta          map[string]any        `json:"meta"`
}

// TierCounts reports how many interactables landed in each tier.
func (pm *PageMap) TierCounts() map[int]int {
	counts := make(map[int]int)
	for _, el := range pm.Interactables {
		counts[el.Tier]++
	}
	return counts
}

// ToJSON serializes the page map for programmatic consumers.
func ToJSON(pm *PageMap, indent bool) ([]byte, error) {
	view := jsonView{
		URL:           pm.URL,
		Title:         pm.Title,
		PageType:      pm.PageType,
		Interactables: pm.Interactables,
		PrunedContext: pm.PrunedContext,
		Images:        pm.Images,
		Metadata:      pm.Metadata,
		Warnings:      pm.Warnings,
		Meta: map[string]any{
			"pruned_tokens":      pm.PrunedTokens,
			"interactable_count": len(pm.Interactables),
			"generation_ms":      float64(int(pm.GenerationMS*10)) / 10,
			"tier_counts":        pm.TierCounts(),
		},
	}
	if view.Interactables == nil {
		view.Interactables = []detect.Interactable{}
	}
	if view.Images == nil {
		view.Images = []string{}
	}
	if indent {
		return json.MarshalIndent(view, "", "  ")
	}
	return json.Marshal(view)
}
