package contextbuild

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Retio-ai/pagemap/internal/i18n"
)

// Pagination is read from the raw HTML rather than the pruned output,
// because the AOM filter removes <nav> before the chunks are built.

var (
	pageParamRe = regexp.MustCompile(`(?i)(?:href|action)=["'][^"']*[?&](?:page|p|pg|pn|pageNo|pageNum|currentPage)=(\d+)`)

	totalCountRe = regexp.MustCompile(`(?i)(?:` +
		`총\s*[\d,]+\s*건` +
		`|[\d,]+\s*(?:개의?\s*(?:상품|결과|검색결과|아이템|건))` +
		`|\d[\d,]*\s*(?:results?|items?|products?)` +
		`|(?:of|중)\s+[\d,]+` +
		`|\d+-\d+\s+of\s+[\d,]+` +
		`|\d[\d,]*\s*件の商品` +
		`|\d[\d,]*\s*résultats` +
		`|\d[\d,]*\s*produits` +
		`|\d[\d,]*\s*Ergebnisse` +
		`|\d[\d,]*\s*Produkte` +
		`)`)

	currentPageRe = regexp.MustCompile(`(?:` +
		`[Pp]age\s+(\d+)\s+(?:of|/)\s+(\d+)` +
		`|페이지\s*(\d+)\s*/\s*(\d+)` +
		`|(\d+)\s*/\s*(\d+)\s*페이지` +
		`|(\d+)\s*/\s*(\d+)\s*ページ` +
		`|[Ss]eite\s+(\d+)\s+(?:von|/)\s+(\d+)` +
		`)`)

	hasNextRe = buildHasNextRe()
)

func buildHasNextRe() *regexp.Regexp {
	terms := append(append([]string{}, i18n.NextButtonTerms...), i18n.LoadMoreTerms...)
	var alts []string
	for _, t := range terms {
		alts = append(alts, ">"+regexp.QuoteMeta(t)+"<")
	}
	var labelAlts []string
	for _, t := range terms {
		labelAlts = append(labelAlts, regexp.QuoteMeta(t))
	}
	pattern := `(?i)(?:` + strings.Join(alts, "|") +
		`|aria-label=["'](?:` + strings.Join(labelAlts, "|") + `)["']` +
		`|class=["'][^"']*next[^"']*["']` +
		`)`
	return regexp.MustCompile(pattern)
}

// ExtractPaginationInfo summarizes pagination as a single line like
// "페이지네이션: ~25페이지 | 총 500건 | 다음 있음". Empty when nothing
// pagination-shaped is found.
func ExtractPaginationInfo(rawHTML string, lc i18n.Locale) string {
	var parts []string

	maxPage := 0
	for _, m := range pageParamRe.FindAllStringSubmatch(rawHTML, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxPage {
			maxPage = n
		}
	}
	if m := currentPageRe.FindStringSubmatch(rawHTML); m != nil {
		for i := 1; i < len(m); i += 2 {
			if m[i] == "" {
				continue
			}
			if total, err := strconv.Atoi(m[i+1]); err == nil && total > maxPage {
				maxPage = total
			}
			break
		}
	}
	if maxPage > 1 {
		parts = append(parts, fmt.Sprintf("~%d%s", maxPage, lc.LabelPageSuffix))
	}

	if m := totalCountRe.FindString(rawHTML); m != "" {
		parts = append(parts, strings.TrimSpace(m))
	}

	if hasNextRe.MatchString(rawHTML) {
		parts = append(parts, lc.LabelNext)
	}

	if len(parts) == 0 {
		return ""
	}
	return lc.LabelPagination + ": " + strings.Join(parts, " | ")
}

// RefCandidate is the minimal interactable view needed for hint
// matching: a ref number, its accessible name, and its landmark region.
type RefCandidate struct {
	Ref    int
	Name   string
	Region string
}

// NavigationHints points the agent at the refs that drive pagination
// plus the sidebar filter controls.
type NavigationHints struct {
	Pagination  string `json:"pagination,omitempty"`
	NextRef     *int   `json:"next_ref,omitempty"`
	PrevRef     *int   `json:"prev_ref,omitempty"`
	LoadMoreRef *int   `json:"load_more_ref,omitempty"`
	FilterRefs  []int  `json:"filter_refs,omitempty"`
}

const maxFilterRefs = 10

// BuildNavigationHints matches localized next/prev/load-more names
// against the page's interactables and collects filter refs from the
// complementary region.
func BuildNavigationHints(rawHTML string, refs []RefCandidate, lc i18n.Locale) NavigationHints {
	hints := NavigationHints{Pagination: ExtractPaginationInfo(rawHTML, lc)}

	for i := range refs {
		ref := refs[i]
		name := strings.TrimSpace(ref.Name)
		switch {
		case hints.NextRef == nil && i18n.ContainsAny(name, i18n.NextButtonTerms):
			hints.NextRef = &refs[i].Ref
		case hints.PrevRef == nil && i18n.ContainsAny(name, i18n.PrevButtonTerms):
			hints.PrevRef = &refs[i].Ref
		case hints.LoadMoreRef == nil && i18n.ContainsAny(name, i18n.LoadMoreTerms):
			hints.LoadMoreRef = &refs[i].Ref
		}
		if ref.Region == "complementary" && len(hints.FilterRefs) < maxFilterRefs {
			hints.FilterRefs = append(hints.FilterRefs, ref.Ref)
		}
	}
	return hints
}

// Empty reports whether no hint was found.
func (h NavigationHints) Empty() bool {
	return h.Pagination == "" && h.NextRef == nil && h.PrevRef == nil &&
		h.LoadMoreRef == nil && len(h.FilterRefs) == 0
}
