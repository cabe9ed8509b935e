package contextbuild

import (
	"strings"

	"github.com/Retio-ai/pagemap/internal/classify"
	"github.com/Retio-ai/pagemap/internal/i18n"
	"github.com/Retio-ai/pagemap/internal/prune"
	"github.com/Retio-ai/pagemap/internal/tokens"
)

// BuildInput bundles everything the builder needs for one page.
type BuildInput struct {
	RawHTML    string
	Pruned     prune.Result
	PageType   string
	SchemaName string
	MaxTokens  int
	LocaleCode string
}

// pageTypeCompressors is the primary dispatch table. Dashboard is
// handled separately because it forks on page structure.
var pageTypeCompressors = map[string]compressor{
	classify.ProductDetail: compressForProduct,
	classify.SearchResults: compressForSearchResults,
	classify.Listing:       compressForListing,
	classify.Article:       compressForArticle,
	classify.News:          compressForArticle,
	classify.Landing:       compressForLanding,
	classify.Video:         compressForVideo,
}

// schemaCompressors is the fallback when the page type misses.
var schemaCompressors = map[string]compressor{
	classify.SchemaSaaSPage:       compressForSaaS,
	classify.SchemaGovernmentPage: compressForGovernment,
	classify.SchemaWikiArticle:    compressForArticle,
	classify.SchemaNewsArticle:    compressForArticle,
	classify.SchemaProduct:        compressForProduct,
}

// mcgExempt lists page types that legitimately produce little content.
var mcgExempt = map[string]bool{
	classify.Login:     true,
	classify.ErrorPage: true,
	classify.Form:      true,
	classify.Settings:  true,
}

const (
	mcgMinTokens = 5
	mcgMinRawLen = 500
	minHeadlines = 3
)

func selectCompressor(pageType, schemaName string) compressor {
	// Schema overrides pre-empt the page-type vote where structured
	// data is more trustworthy than heuristics.
	if schemaName == classify.SchemaVideoObject {
		return compressForVideo
	}
	if schemaName == classify.SchemaWikiArticle {
		switch pageType {
		case classify.Unknown, classify.Article, classify.Documentation:
			return compressForArticle
		}
	}
	if c, ok := pageTypeCompressors[pageType]; ok {
		return c
	}
	if pageType == classify.Dashboard {
		return compressForDashboard
	}
	if c, ok := schemaCompressors[schemaName]; ok {
		return c
	}
	return compressDefault
}

// compressForDashboard forks on structure: a dashboard that is really a
// news front page gets the headline-list treatment.
func compressForDashboard(cc CompressorContext) string {
	portal := compressForNewsPortal(cc)
	if strings.Count(portal, "\n")+1 >= minHeadlines {
		return portal
	}
	return compressDefault(cc)
}

// extractMinimumContent is the MCG fallback chain: OG title and
// description, then visible text from the pruned HTML, then from raw.
func extractMinimumContent(metaChunks []prune.Chunk, prunedHTML, rawHTML string, maxTokens int) string {
	var parts []string
	for _, chunk := range metaChunks {
		if chunk.Type != prune.ChunkMeta {
			continue
		}
		if title := chunk.Attrs["og:title"]; title != "" {
			parts = append(parts, title)
		}
		if desc := chunk.Attrs["og:description"]; desc != "" {
			parts = append(parts, desc)
		}
	}
	if len(parts) > 0 {
		return fitBudget(strings.Join(parts, "\n"), maxTokens)
	}

	for _, source := range []string{prunedHTML, rawHTML} {
		var lines []string
		for _, line := range extractTextLines(source) {
			if len(line) >= 20 {
				lines = append(lines, truncateHead(line, 300))
			}
			if len(lines) == 10 {
				break
			}
		}
		if len(lines) > 0 {
			return fitBudget(strings.Join(lines, "\n"), maxTokens)
		}
	}
	return ""
}

// Build produces the pruned-context string for a page. It extracts
// metadata, dispatches the compressor, applies the minimum-content
// guarantee and appends pagination hints for result pages. The output
// always fits the token budget.
func Build(in BuildInput) (string, int, Metadata) {
	lc := i18n.Get(in.LocaleCode)
	md := ExtractMetadata(in.Pruned.MetaChunks, in.Pruned.HeadingChunks, in.SchemaName)

	cc := CompressorContext{
		PrunedHTML: in.Pruned.PrunedHTML,
		RawHTML:    in.RawHTML,
		MaxTokens:  in.MaxTokens,
		Metadata:   md,
		Chunks:     in.Pruned.SelectedChunks,
		Locale:     lc,
	}
	out := selectCompressor(in.PageType, in.SchemaName)(cc)

	if tokens.Count(out) < mcgMinTokens && !mcgExempt[in.PageType] && len(in.RawHTML) > mcgMinRawLen {
		if rescued := extractMinimumContent(in.Pruned.MetaChunks, in.Pruned.PrunedHTML, in.RawHTML, in.MaxTokens); rescued != "" {
			out = rescued
			md.MCGActivated = true
		}
	}

	if in.PageType == classify.SearchResults || in.PageType == classify.Listing {
		if p := ExtractPaginationInfo(in.RawHTML, lc); p != "" && !strings.Contains(out, p) {
			out = strings.TrimSpace(out + "\n" + p)
		}
	}

	out = fitBudget(out, in.MaxTokens)
	return out, tokens.Count(out), md
}
