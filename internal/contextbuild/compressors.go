package contextbuild

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Retio-ai/pagemap/internal/i18n"
	"github.com/Retio-ai/pagemap/internal/prune"
	"github.com/Retio-ai/pagemap/internal/tokens"
)

// CompressorContext is the input bundle each compressor receives.
type CompressorContext struct {
	PrunedHTML string
	RawHTML    string
	MaxTokens  int
	Metadata   Metadata
	Chunks     []prune.Chunk
	Locale     i18n.Locale
}

type compressor func(cc CompressorContext) string

var (
	pricePatternRe = buildPricePattern()
	ratingRe       = regexp.MustCompile(`(?:★|⭐|평점|별점|\d+\.\d+\s*[/점]|\d+(?:\.\d+)?점|리뷰\s*\d+|評価|レビュー|étoile|Bewertung|Sterne)`)
	digitRe        = regexp.MustCompile(`\d`)
	bareCommaNumRe = regexp.MustCompile(`^\d{2,3}(?:,\d{3})+$`)
	dateLineRe     = regexp.MustCompile(`\d{4}[.\-/]\d{1,2}[.\-/]\d{1,2}`)
	scriptStyleRe  = regexp.MustCompile(`(?is)<(?:script|style|noscript)[^>]*>.*?</(?:script|style|noscript)>`)
	anyTagRe       = regexp.MustCompile(`<[^>]+>`)
	manyNewlinesRe = regexp.MustCompile(`\n{3,}`)
	horizSpaceRe   = regexp.MustCompile(`[ \t]+`)
)

func buildPricePattern() *regexp.Regexp {
	var labels []string
	for _, t := range i18n.PriceLabelTerms {
		labels = append(labels, regexp.QuoteMeta(t))
	}
	return regexp.MustCompile(
		`(?:₩\s*[\d,]+|\d[\d,]+\s*원` +
			`|\d[\d,]+\s*円|¥\s*[\d,]+` +
			`|£\s*[\d,]+(?:\.\d{2})?` +
			`|€\s*[\d,]+(?:\.\d{2})?` +
			`|\$\d+(?:\.\d{2})?` +
			`|\d{2,3}(?:,\d{3})+)` +
			`|` + strings.Join(labels, "|"))
}

// extractTextLines flattens HTML into trimmed visible text lines.
func extractTextLines(htmlStr string) []string {
	cleaned := scriptStyleRe.ReplaceAllString(htmlStr, "")
	text := anyTagRe.ReplaceAllString(cleaned, "\n")
	text = manyNewlinesRe.ReplaceAllString(text, "\n\n")
	text = horizSpaceRe.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func truncateHead(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

func fitBudget(s string, maxTokens int) string {
	if tokens.Count(s) > maxTokens {
		return tokens.Truncate(s, maxTokens)
	}
	return s
}

func containsAnyLower(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// compressForProduct keeps name, price, rating and option lines.
// Structured metadata wins; regex scraping only fills the gaps.
func compressForProduct(cc CompressorContext) string {
	lc := cc.Locale
	md := cc.Metadata
	var parts []string
	used := map[string]bool{}

	if md.Name != "" {
		parts = append(parts, lc.LabelTitle+": "+md.Name)
		used["title"] = true
	}
	if md.Price != nil {
		currency := md.Currency
		if currency == "" {
			currency = lc.Currency
		}
		parts = append(parts, FormatPrice(*md.Price, currency))
		used["price"] = true
	}
	if md.Rating != nil {
		line := fmt.Sprintf("%s: %g", lc.LabelRating, *md.Rating)
		if md.ReviewCount != nil {
			line += " " + fmt.Sprintf(lc.ReviewTemplate, *md.ReviewCount)
		}
		parts = append(parts, line)
		used["rating"] = true
	}
	if md.Brand != "" {
		parts = append(parts, lc.LabelBrand+": "+md.Brand)
	}

	var titleLines, priceLines, ratingLines, optionLines, otherLines []string
	for _, line := range extractTextLines(cc.PrunedHTML) {
		if len(line) < 2 {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case !used["price"] && pricePatternRe.MatchString(line) && digitRe.MatchString(line):
			if !contains(priceLines, line) {
				priceLines = append(priceLines, line)
			}
		case !used["rating"] && ratingRe.MatchString(line):
			if !contains(ratingLines, line) {
				ratingLines = append(ratingLines, line)
			}
		case containsAnyLower(lower, i18n.OptionTerms):
			optionLines = append(optionLines, line)
		case !used["title"] && len(titleLines) == 0 && len(line) > 10 && len(line) < 200:
			titleLines = append(titleLines, line)
		default:
			otherLines = append(otherLines, line)
		}
	}

	// A bare grouped number on a Korean shop page is a price missing
	// its suffix.
	if !used["price"] {
		for i, p := range priceLines {
			if bareCommaNumRe.MatchString(strings.TrimSpace(p)) {
				priceLines[i] = strings.TrimSpace(p) + "원"
			}
		}
	}

	if !used["title"] && len(titleLines) > 0 {
		parts = append(parts, lc.LabelTitle+": "+titleLines[0])
	}
	if !used["price"] {
		parts = append(parts, head(priceLines, 5)...)
	}
	if !used["rating"] {
		parts = append(parts, head(ratingLines, 2)...)
	}
	parts = append(parts, head(optionLines, 5)...)
	for _, d := range head(otherLines, 3) {
		if len(d) > 15 {
			parts = append(parts, truncateHead(d, 200))
		}
	}

	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

// compressForArticle keeps title, date and the first two paragraphs.
func compressForArticle(cc CompressorContext) string {
	lc := cc.Locale
	var parts []string
	titleFound := false
	paraCount := 0

	if cc.Metadata.Headline != "" {
		parts = append(parts, lc.LabelTitle+": "+cc.Metadata.Headline)
		titleFound = true
	}
	if cc.Metadata.DatePublished != "" {
		parts = append(parts, cc.Metadata.DatePublished)
	}

	for _, line := range extractTextLines(cc.PrunedHTML) {
		if len(line) < 3 {
			continue
		}
		if !titleFound && len(line) > 10 {
			parts = append(parts, lc.LabelTitle+": "+line)
			titleFound = true
			continue
		}
		if dateLineRe.MatchString(line) {
			parts = append(parts, line)
			continue
		}
		if titleFound && paraCount < 2 && len(line) > 30 {
			parts = append(parts, truncateHead(line, 300))
			paraCount++
		}
	}
	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

// compressForSearchResults prefers the card detector, falling back to
// line scraping of counts, products and filters.
func compressForSearchResults(cc CompressorContext) string {
	if cards := DetectProductCards(cc.Chunks, cc.Metadata); len(cards) > 0 {
		return buildCardOutput(cc, cards)
	}
	return compressListLike(cc, i18n.SearchResultTerms)
}

// compressForListing is the ranking/category variant of search results.
func compressForListing(cc CompressorContext) string {
	if cards := DetectProductCards(cc.Chunks, cc.Metadata); len(cards) > 0 {
		return buildCardOutput(cc, cards)
	}
	return compressListLike(cc, i18n.ListingTerms)
}

func compressListLike(cc CompressorContext, headerTerms []string) string {
	var headerLines, productLines, filterLines []string
	for _, line := range extractTextLines(cc.PrunedHTML) {
		if len(line) < 2 {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case containsAnyLower(lower, headerTerms):
			headerLines = append(headerLines, line)
		case pricePatternRe.MatchString(line):
			productLines = append(productLines, line)
		case containsAnyLower(lower, i18n.FilterTerms):
			filterLines = append(filterLines, truncateHead(line, 100))
		}
	}
	parts := head(headerLines, 2)
	for _, p := range head(productLines, 10) {
		parts = append(parts, truncateHead(p, 150))
	}
	parts = append(parts, head(filterLines, 3)...)
	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

func buildCardOutput(cc CompressorContext, cards []Card) string {
	var parts []string
	headingTerms := append(append([]string{}, i18n.ListingTerms...), i18n.SearchResultTerms...)
	countTerms := append(append([]string{}, i18n.SearchResultTerms...), i18n.FilterTerms...)

	lines := extractTextLines(cc.PrunedHTML)
	for _, line := range head(lines, 15) {
		if containsAnyLower(strings.ToLower(line), headingTerms) {
			parts = append(parts, truncateHead(line, 150))
			break
		}
	}
	for _, line := range head(lines, 20) {
		if containsAnyLower(strings.ToLower(line), countTerms) && !contains(parts, truncateHead(line, 150)) {
			parts = append(parts, truncateHead(line, 150))
			if len(parts) >= 3 {
				break
			}
		}
	}
	parts = append(parts, serializeCards(cards, cc.Locale))
	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

// compressForNewsPortal serializes an article-list front page as
// numbered headlines.
func compressForNewsPortal(cc CompressorContext) string {
	var headlines []string
	seen := map[string]bool{}
	for _, line := range extractTextLines(cc.PrunedHTML) {
		if len(line) < 20 || len(line) > 150 {
			continue
		}
		if pricePatternRe.MatchString(line) {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		headlines = append(headlines, line)
		if len(headlines) == 15 {
			break
		}
	}
	var parts []string
	for i, h := range headlines {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, h))
	}
	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

// compressForLanding keeps the hero title plus the section headings.
func compressForLanding(cc CompressorContext) string {
	lc := cc.Locale
	var parts []string
	if cc.Metadata.Name != "" {
		parts = append(parts, lc.LabelTitle+": "+cc.Metadata.Name)
	}
	count := 0
	for _, line := range extractTextLines(cc.PrunedHTML) {
		if len(line) < 5 || len(line) > 200 {
			continue
		}
		parts = append(parts, truncateHead(line, 200))
		count++
		if count == 12 {
			break
		}
	}
	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

// compressForSaaS keeps name, pricing and feature lines.
func compressForSaaS(cc CompressorContext) string {
	lc := cc.Locale
	var parts []string
	if cc.Metadata.Name != "" {
		parts = append(parts, lc.LabelTitle+": "+cc.Metadata.Name)
	}
	var pricing, features, other []string
	for _, line := range extractTextLines(cc.PrunedHTML) {
		if len(line) < 3 {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case containsAnyLower(lower, i18n.PricingTerms):
			pricing = append(pricing, truncateHead(line, 150))
		case containsAnyLower(lower, i18n.FeatureTerms):
			features = append(features, truncateHead(line, 150))
		case len(line) > 30:
			other = append(other, truncateHead(line, 200))
		}
	}
	parts = append(parts, head(pricing, 5)...)
	parts = append(parts, head(features, 5)...)
	parts = append(parts, head(other, 3)...)
	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

// compressForGovernment keeps the title, agency contact lines and dates.
func compressForGovernment(cc CompressorContext) string {
	lc := cc.Locale
	var parts []string
	if cc.Metadata.Name != "" {
		parts = append(parts, lc.LabelTitle+": "+cc.Metadata.Name)
	}
	var contact, dated, body []string
	for _, line := range extractTextLines(cc.PrunedHTML) {
		if len(line) < 3 {
			continue
		}
		switch {
		case i18n.ContainsAny(line, i18n.ContactTerms):
			contact = append(contact, truncateHead(line, 150))
		case dateLineRe.MatchString(line):
			dated = append(dated, truncateHead(line, 100))
		case len(line) > 30:
			body = append(body, truncateHead(line, 250))
		}
	}
	parts = append(parts, head(body, 3)...)
	parts = append(parts, head(contact, 3)...)
	parts = append(parts, head(dated, 2)...)
	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

var videoStatRe = regexp.MustCompile(`(?i)(?:조회수|views?|再生回数|\d+:\d{2}|구독자|subscribers?)`)

// compressForVideo keeps the video title, view and duration stats, and a
// short description.
func compressForVideo(cc CompressorContext) string {
	lc := cc.Locale
	var parts []string
	titleFound := false
	if cc.Metadata.Name != "" {
		parts = append(parts, lc.LabelTitle+": "+cc.Metadata.Name)
		titleFound = true
	}
	var stats, desc []string
	for _, line := range extractTextLines(cc.PrunedHTML) {
		if len(line) < 3 {
			continue
		}
		switch {
		case !titleFound && len(line) > 10 && len(line) < 200:
			parts = append(parts, lc.LabelTitle+": "+line)
			titleFound = true
		case videoStatRe.MatchString(line):
			stats = append(stats, truncateHead(line, 100))
		case len(line) > 30:
			desc = append(desc, truncateHead(line, 250))
		}
	}
	parts = append(parts, head(stats, 3)...)
	parts = append(parts, head(desc, 2)...)
	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

// compressDefault keeps every significant line until the budget fills.
func compressDefault(cc CompressorContext) string {
	var parts []string
	for _, line := range extractTextLines(cc.PrunedHTML) {
		if len(line) < 5 {
			continue
		}
		parts = append(parts, truncateHead(line, 300))
		if tokens.Count(strings.Join(parts, "\n")) > cc.MaxTokens {
			parts = parts[:len(parts)-1]
			break
		}
	}
	return fitBudget(strings.Join(parts, "\n"), cc.MaxTokens)
}

func head(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
