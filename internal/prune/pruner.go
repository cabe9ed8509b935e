package prune

import (
	"regexp"
	"strings"

	"github.com/Retio-ai/pagemap/internal/i18n"
)

// Decision is the kept/removed outcome for one chunk.
type Decision struct {
	Keep          bool
	Reason        string
	MatchedFields []string
}

// Decided pairs a chunk with its decision.
type Decided struct {
	Chunk    Chunk
	Decision Decision
}

func termsPattern(terms []string) string {
	escaped := make([]string, len(terms))
	for i, t := range terms {
		escaped[i] = regexp.QuoteMeta(t)
	}
	return strings.Join(escaped, "|")
}

var (
	priceRe       = regexp.MustCompile(`(?:` + termsPattern(i18n.PriceTerms) + `|,\d{3}|\d{1,3}(?:,\d{3})+)`)
	numericRe     = regexp.MustCompile(`\d+`)
	dateRe        = regexp.MustCompile(`\d{4}[-./]\d{1,2}[-./]\d{1,2}`)
	ratingRe      = regexp.MustCompile(`(?i)(?:` + termsPattern(i18n.RatingTerms) + `|\d\.\d)`)
	reviewCountRe = regexp.MustCompile(`(?i)\d+\s*(?:` + termsPattern(i18n.ReviewCountTerms) + `)`)
	reporterRe    = regexp.MustCompile(`(?i)` + termsPattern(i18n.ReporterTerms))
	contactRe     = regexp.MustCompile(`(?i)` + termsPattern(i18n.ContactTerms))
	brandRe       = regexp.MustCompile(`(?i)` + termsPattern(i18n.BrandTerms))
	featureRe     = regexp.MustCompile(`(?i)` + termsPattern(i18n.FeatureTerms))
	pricingRe     = regexp.MustCompile(`(?i)` + termsPattern(i18n.PricingTerms))
	highValueRe   = regexp.MustCompile(`(?i)` + termsPattern(i18n.HighValueShortTerms))

	// The Korean particle 원 doubles as a currency suffix. Match it only
	// outside digit context so "189,000원" does not read as an agency name.
	departmentRe = func() *regexp.Regexp {
		var terms []string
		for _, t := range i18n.DepartmentTerms {
			if t != "원" {
				terms = append(terms, regexp.QuoteMeta(t))
			}
		}
		return regexp.MustCompile(`(?i)(?:` + strings.Join(terms, "|") + `|[^,\d]원(?:[^,\d]|$)|^원(?:[^,\d]|$))`)
	}()

	productClassRe     = regexp.MustCompile(`(?i)(?:product|goods|item)[-_]?(?:name|title|info|card|unit|detail|summary)`)
	productNameClassRe = regexp.MustCompile(`(?i)(?:product|goods|item)[-_]?(?:name|title)(?:V\d+)?`)
	amazonPriceClassRe = regexp.MustCompile(`(?i)\ba-(?:price|offscreen)\b`)
)

type fieldMatch struct {
	field  string
	reason string
}

func hasItemprop(c Chunk, prop string) bool { return c.Attrs["itemprop"] == prop }

func hasOG(c Chunk, prop string) bool {
	if c.Type != ChunkMeta {
		return false
	}
	_, ok := c.Attrs[prop]
	return ok
}

func matchProduct(c Chunk) []fieldMatch {
	var matches []fieldMatch
	class := strings.ToLower(c.Attrs["class"])

	if c.Tag == "h1" || hasItemprop(c, "name") || hasOG(c, "og:title") {
		matches = append(matches, fieldMatch{"name", "h1/itemprop/og:title"})
	}
	if productNameClassRe.MatchString(class) {
		matches = append(matches, fieldMatch{"name", "class=product-name"})
	}
	if priceRe.MatchString(c.Text) && numericRe.MatchString(c.Text) {
		matches = append(matches, fieldMatch{"price", "price-pattern"})
	}
	if hasItemprop(c, "price") {
		matches = append(matches, fieldMatch{"price", "itemprop=price"})
	}
	if strings.Contains(class, "price") || amazonPriceClassRe.MatchString(class) {
		matches = append(matches, fieldMatch{"price", "class=price"})
	}
	if productClassRe.MatchString(class) {
		matches = append(matches, fieldMatch{"product_card", "class=product-card"})
	}
	if ratingRe.MatchString(c.Text) || hasItemprop(c, "ratingValue") {
		matches = append(matches, fieldMatch{"rating", "rating-pattern"})
	}
	if reviewCountRe.MatchString(c.Text) || hasItemprop(c, "reviewCount") {
		matches = append(matches, fieldMatch{"review_count", "review-count-pattern"})
	}
	if hasItemprop(c, "brand") || brandRe.MatchString(c.Text) {
		matches = append(matches, fieldMatch{"brand", "brand-pattern"})
	}
	return matches
}

func matchNewsArticle(c Chunk) []fieldMatch {
	var matches []fieldMatch
	if c.Tag == "h1" || c.Tag == "h2" || hasItemprop(c, "headline") || hasOG(c, "og:title") {
		matches = append(matches, fieldMatch{"headline", "heading/itemprop/og:title"})
	}
	if c.Tag == "time" || c.Attrs["datetime"] != "" {
		matches = append(matches, fieldMatch{"date_published", "time-element"})
	}
	if dateRe.MatchString(c.Text) {
		matches = append(matches, fieldMatch{"date_published", "date-pattern"})
	}
	if c.Type == ChunkRSCData {
		matches = append(matches, fieldMatch{"date_published", "rsc-data"})
	}
	if hasItemprop(c, "author") || reporterRe.MatchString(c.Text) {
		matches = append(matches, fieldMatch{"author", "author-pattern"})
	}
	if c.Type == ChunkTextBlock && len(c.Text) > 50 {
		matches = append(matches, fieldMatch{"article_body", "long-text-block"})
	}
	if c.Type == ChunkMeta {
		matches = append(matches, fieldMatch{"publisher", "meta-chunk"})
	}
	return matches
}

func matchWikiArticle(c Chunk) []fieldMatch {
	var matches []fieldMatch
	if c.Tag == "h1" || hasOG(c, "og:title") {
		matches = append(matches, fieldMatch{"title", "h1/og:title"})
	}
	if c.Type == ChunkTextBlock && len(c.Text) > 100 {
		matches = append(matches, fieldMatch{"summary", "long-text-block"})
	}
	if c.Type == ChunkHeading {
		matches = append(matches, fieldMatch{"sections", "heading"})
	}
	if c.Type == ChunkTextBlock && len(c.Text) > 30 {
		matches = append(matches, fieldMatch{"sections", "section-text"})
	}
	return matches
}

func matchSaaSPage(c Chunk) []fieldMatch {
	var matches []fieldMatch
	if c.Tag == "h1" || hasOG(c, "og:title") || hasOG(c, "og:site_name") {
		matches = append(matches, fieldMatch{"name", "h1/og:title"})
	}
	if pricingRe.MatchString(c.Text) {
		matches = append(matches, fieldMatch{"pricing", "pricing-pattern"})
		if c.Type == ChunkTable {
			matches = append(matches, fieldMatch{"pricing", "pricing-table"})
		}
	}
	if c.Type == ChunkList && featureRe.MatchString(c.Text) {
		matches = append(matches, fieldMatch{"features", "feature-list"})
	}
	if c.Type == ChunkHeading && featureRe.MatchString(c.Text) {
		matches = append(matches, fieldMatch{"features", "feature-heading"})
	}
	if c.Type == ChunkTextBlock && len(c.Text) > 50 {
		matches = append(matches, fieldMatch{"description", "long-text"})
	}
	return matches
}

func matchGovernmentPage(c Chunk) []fieldMatch {
	var matches []fieldMatch
	if c.Tag == "h1" || hasOG(c, "og:title") {
		matches = append(matches, fieldMatch{"title", "h1/og:title"})
	}
	if c.Type == ChunkMeta && hasOG(c, "og:site_name") {
		matches = append(matches, fieldMatch{"department", "og:site_name"})
	}
	if departmentRe.MatchString(c.Text) {
		matches = append(matches, fieldMatch{"department", "department-pattern"})
	}
	if contactRe.MatchString(c.Text) {
		matches = append(matches, fieldMatch{"contact_info", "contact-pattern"})
	}
	if c.Type == ChunkTextBlock && len(c.Text) > 30 &&
		(c.InMain || strings.Contains(strings.ToLower(c.ParentXPath), "article")) {
		matches = append(matches, fieldMatch{"description", "body-text-in-main"})
	}
	if dateRe.MatchString(c.Text) || c.Attrs["datetime"] != "" {
		matches = append(matches, fieldMatch{"date", "date-pattern"})
	}
	return matches
}

var schemaMatchers = map[string]func(Chunk) []fieldMatch{
	"Product":        matchProduct,
	"NewsArticle":    matchNewsArticle,
	"WikiArticle":    matchWikiArticle,
	"SaaSPage":       matchSaaSPage,
	"GovernmentPage": matchGovernmentPage,
}

// tableNoiseRowRe matches table rows whose cells carry nothing but
// whitespace, numbers, dashes or N/A.
var (
	tableRowRe      = regexp.MustCompile(`(?is)<tr\b[^>]*>.*?</tr>`)
	noiseRowTextRe  = regexp.MustCompile(`^[\s\d.,%/–—-]*$`)
	naRowText       = "n/a"
	rowTagStripRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	highValueMaxLen = 120
)

// stripNoisyTableRows removes rows that contain no named content before
// the chunk competes for budget.
func stripNoisyTableRows(tableHTML string) string {
	return tableRowRe.ReplaceAllStringFunc(tableHTML, func(row string) string {
		text := strings.TrimSpace(rowTagStripRe.ReplaceAllString(row, ""))
		lower := strings.ToLower(text)
		if noiseRowTextRe.MatchString(text) || lower == naRowText {
			return ""
		}
		return row
	})
}

// PruneChunks applies the kept/removed rules to every chunk.
func PruneChunks(chunks []Chunk, schemaName string, hasMain bool) []Decided {
	matcher := schemaMatchers[schemaName]
	results := make([]Decided, 0, len(chunks))

	// Repeated price blocks outside main past the third one are almost
	// always a recommendation rail, not the product.
	priceCount := 0

	for _, chunk := range chunks {
		if chunk.Type == ChunkMeta || chunk.Type == ChunkRSCData {
			results = append(results, Decided{chunk, Decision{Keep: true, Reason: "meta-always-keep"}})
			continue
		}

		if chunk.Type == ChunkTable {
			chunk.HTML = stripNoisyTableRows(chunk.HTML)
			if strings.TrimSpace(rowTagStripRe.ReplaceAllString(chunk.HTML, "")) == "" {
				results = append(results, Decided{chunk, Decision{Keep: false, Reason: "table-noise"}})
				continue
			}
		}

		var matched []string
		var reasons []string
		if matcher != nil {
			for _, fm := range matcher(chunk) {
				matched = append(matched, fm.field)
				reasons = append(reasons, fm.field+":"+fm.reason)
			}
		}

		if len(matched) > 0 {
			if schemaName == "Product" && contains(matched, "price") {
				priceCount++
				if priceCount > 3 && !chunk.InMain {
					results = append(results, Decided{chunk, Decision{
						Keep: false, Reason: "recommendation-filter", MatchedFields: matched,
					}})
					continue
				}
			}
			results = append(results, Decided{chunk, Decision{
				Keep: true, Reason: "schema-match: " + strings.Join(reasons, "; "), MatchedFields: matched,
			}})
			continue
		}

		if hasMain && chunk.InMain {
			results = append(results, Decided{chunk, decideInMain(chunk)})
			continue
		}

		if !hasMain {
			if d, ok := decideNoMain(chunk); ok {
				results = append(results, Decided{chunk, d})
				continue
			}
		}

		results = append(results, Decided{chunk, Decision{Keep: false, Reason: "no-match"}})
	}
	return results
}

func decideInMain(chunk Chunk) Decision {
	switch chunk.Type {
	case ChunkHeading:
		return Decision{Keep: true, Reason: "in-main-heading"}
	case ChunkForm:
		return Decision{Keep: true, Reason: "in-main-form"}
	case ChunkMedia:
		return Decision{Keep: true, Reason: "in-main-media"}
	case ChunkTextBlock:
		if len(chunk.Text) > 50 {
			return Decision{Keep: true, Reason: "in-main-text"}
		}
		if len(chunk.Text) <= highValueMaxLen && highValueRe.MatchString(chunk.Text) {
			return Decision{Keep: true, Reason: "in-main-high-value-short"}
		}
		return Decision{Keep: false, Reason: "in-main-short"}
	case ChunkTable, ChunkList:
		if len(chunk.Text) > 50 {
			return Decision{Keep: true, Reason: "in-main-structured"}
		}
		return Decision{Keep: false, Reason: "in-main-short"}
	}
	return Decision{Keep: false, Reason: "in-main-short"}
}

func decideNoMain(chunk Chunk) (Decision, bool) {
	switch chunk.Type {
	case ChunkHeading:
		return Decision{Keep: true, Reason: "keep-heading-no-main"}, true
	case ChunkForm:
		return Decision{Keep: true, Reason: "keep-form-no-main"}, true
	case ChunkMedia:
		return Decision{Keep: true, Reason: "keep-media-no-main"}, true
	case ChunkTextBlock:
		if len(chunk.Text) >= 50 {
			return Decision{Keep: true, Reason: "keep-text-no-main"}, true
		}
	}
	return Decision{}, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
