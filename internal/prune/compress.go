package prune

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const emptyTagRemovalPasses = 5

// Tags that can be dropped when empty, and the block tags whose single
// wrapping div is collapsible.
var (
	collapsibleTags = []string{
		"div", "span", "p", "section", "article", "aside", "figure",
		"figcaption", "details", "summary", "b", "i", "em", "strong",
		"small", "sup", "sub", "a", "abbr", "cite", "code", "mark", "u", "s",
	}
	emptyTagRes = func() []*regexp.Regexp {
		res := make([]*regexp.Regexp, len(collapsibleTags))
		for i, tag := range collapsibleTags {
			res[i] = regexp.MustCompile(`(?i)<` + tag + `\b[^>]*>\s*</` + tag + `>`)
		}
		return res
	}()

	wrapperDivRe  = regexp.MustCompile(`(?is)<div\b[^>]*>\s*(<(?:p|h[1-6]|ul|ol|table|article|section|figure)\b[^>]*>.*?</(?:p|h[1-6]|ul|ol|table|article|section|figure)>)\s*</div>`)
	spanWrapperRe = regexp.MustCompile(`(?s)<span\s*>(.*?)</span>`)
	tagGapRe      = regexp.MustCompile(`>\s+<`)
)

// removeAttrRe strips every attribute that carries no semantics for an
// agent: styling hooks, event handlers, layout hints and the aria-*
// state machinery.
var removeAttrRe = regexp.MustCompile(`(?i)\s+(?:class|id|data-[\w-]+|style|onclick|onload|onsubmit|onchange|` +
	`tabindex|accesskey|draggable|lang|dir|translate|hidden|slot|part|` +
	`xmlns[\w:]*|xml:[\w]+|about|datatype|inlist|prefix|rev|typeof|vocab|` +
	`autocomplete|autofocus|placeholder|spellcheck|contenteditable|` +
	`aria-describedby|aria-expanded|aria-haspopup|aria-controls|aria-selected|` +
	`aria-pressed|aria-checked|aria-disabled|aria-live|aria-atomic|aria-relevant|` +
	`aria-owns|aria-flowto|aria-busy|aria-dropeffect|aria-grabbed|` +
	`aria-colcount|aria-colindex|aria-colspan|aria-rowcount|aria-rowindex|aria-rowspan|` +
	`aria-activedescendant|aria-errormessage|aria-keyshortcuts|aria-modal|` +
	`aria-multiline|aria-multiselectable|aria-orientation|aria-placeholder|` +
	`aria-posinset|aria-readonly|aria-required|aria-roledescription|aria-setsize|` +
	`aria-sort|aria-valuemax|aria-valuemin|aria-valuenow|aria-valuetext|` +
	`width|height|border|cellpadding|cellspacing|bgcolor|align|valign)` +
	`\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)

var xpathIndexRe = regexp.MustCompile(`^([^[]+?)(?:\[(\d+)\])?$`)

type xpathStep struct {
	name  string
	index int
}

// xpathSortKey parses an XPath into steps with numeric sibling indices.
// Lexicographic sorting puts div[10] before div[2]; numeric comparison
// does not.
func xpathSortKey(xpath string) []xpathStep {
	var steps []xpathStep
	for _, step := range strings.Split(xpath, "/") {
		if step == "" {
			continue
		}
		m := xpathIndexRe.FindStringSubmatch(step)
		if m == nil {
			steps = append(steps, xpathStep{name: step})
			continue
		}
		idx := 0
		if m[2] != "" {
			idx, _ = strconv.Atoi(m[2])
		}
		steps = append(steps, xpathStep{name: m[1], index: idx})
	}
	return steps
}

func compareXPaths(a, b string) int {
	sa, sb := xpathSortKey(a), xpathSortKey(b)
	for i := 0; i < len(sa) && i < len(sb); i++ {
		if sa[i].name != sb[i].name {
			return strings.Compare(sa[i].name, sb[i].name)
		}
		if sa[i].index != sb[i].index {
			if sa[i].index < sb[i].index {
				return -1
			}
			return 1
		}
	}
	return len(sa) - len(sb)
}

// Remerge joins selected chunks back into one HTML document in
// document order.
func Remerge(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return compareXPaths(ordered[i].XPath, ordered[j].XPath) < 0
	})
	parts := make([]string, len(ordered))
	for i, c := range ordered {
		parts[i] = c.HTML
	}
	return "<html><body>\n" + strings.Join(parts, "\n") + "\n</body></html>"
}

// Compress is the lossless pass 2: attribute stripping, empty-tag
// removal, wrapper collapsing and whitespace normalization. Scripts and
// meta tags survive because the extracted JSON-LD and OG chunks must
// not be destroyed here.
func Compress(htmlStr string) string {
	if htmlStr == "" {
		return htmlStr
	}
	result := removeAttrRe.ReplaceAllString(htmlStr, "")

	for pass := 0; pass < emptyTagRemovalPasses; pass++ {
		prev := result
		for _, re := range emptyTagRes {
			result = re.ReplaceAllString(result, "")
		}
		if result == prev {
			break
		}
	}

	result = wrapperDivRe.ReplaceAllString(result, "$1")
	result = spanWrapperRe.ReplaceAllString(result, "$1")

	result = horizSpaceRe.ReplaceAllString(result, " ")
	result = blankLinesRe.ReplaceAllString(result, "\n")
	result = tagGapRe.ReplaceAllString(result, ">\n<")

	return strings.TrimSpace(result)
}
