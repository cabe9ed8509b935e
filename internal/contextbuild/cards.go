package contextbuild

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Retio-ai/pagemap/internal/i18n"
	"github.com/Retio-ai/pagemap/internal/prune"
)

// Card is one detected listing entry, a name with optional price info.
type Card struct {
	Name      string
	PriceText string
	Price     *float64
	Currency  string
	Brand     string
	URL       string
	Position  int
}

const maxSerializedCards = 15

var cardPriceRe = regexp.MustCompile(
	`(?:₩\s*[\d,]+|\d[\d,]+\s*원|\d[\d,]+\s*円|¥\s*[\d,]+` +
		`|\d{2,3}(?:,\d{3})+(?:\s*원)?` +
		`|\$\d+(?:\.\d{2})?|€\s*[\d,.]+|£\s*[\d,.]+` +
		`|USD\s*[\d,.]+|EUR\s*[\d,.]+|CHF\s*[\d,.]+)`)

var (
	liSplitRe   = regexp.MustCompile(`(?i)<li[^>]*>`)
	tagStripRe  = regexp.MustCompile(`(?s)<[^>]+>`)
	wsRe        = regexp.MustCompile(`\s+`)
	nameTrimSet = "|·-–— "
)

// FormatPrice renders an amount with currency-specific notation.
func FormatPrice(amount float64, currency string) string {
	switch currency {
	case "KRW":
		return groupThousands(int64(amount)) + "원"
	case "JPY":
		return groupThousands(int64(amount)) + "円"
	case "USD":
		return fmt.Sprintf("$%s", groupThousandsFloat(amount))
	case "EUR":
		return fmt.Sprintf("€%s", groupThousandsFloat(amount))
	case "GBP":
		return fmt.Sprintf("£%s", groupThousandsFloat(amount))
	case "CHF":
		return fmt.Sprintf("CHF %s", groupThousandsFloat(amount))
	case "SEK", "NOK", "DKK":
		return fmt.Sprintf("%s kr", groupThousandsFloat(amount))
	case "AUD", "CAD", "NZD":
		return fmt.Sprintf("$%s %s", groupThousandsFloat(amount), currency)
	}
	return groupThousands(int64(amount))
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		return "-" + out
	}
	return out
}

func groupThousandsFloat(f float64) string {
	whole := int64(f)
	cents := int64((f-float64(whole))*100 + 0.5)
	return fmt.Sprintf("%s.%02d", groupThousands(whole), cents)
}

// detectCardsFromChunks finds name+price pairs without metadata. Three
// strategies in order, first one that yields cards wins: list items,
// parent-xpath sibling grouping, adjacent line pairing.
func detectCardsFromChunks(chunks []prune.Chunk) []Card {
	var cards []Card

	// Strategy 1: LIST and TABLE chunks split on <li>.
	for _, chunk := range chunks {
		if chunk.Type != prune.ChunkList && chunk.Type != prune.ChunkTable {
			continue
		}
		parts := liSplitRe.Split(chunk.HTML, -1)
		for _, part := range parts[min(1, len(parts)):] {
			text := strings.TrimSpace(wsRe.ReplaceAllString(tagStripRe.ReplaceAllString(part, " "), " "))
			if len(text) < 5 {
				continue
			}
			loc := cardPriceRe.FindStringIndex(text)
			if loc == nil {
				continue
			}
			name := strings.Trim(text[:loc[0]], nameTrimSet)
			if len(name) > 2 {
				cards = append(cards, Card{Name: name, PriceText: text[loc[0]:loc[1]]})
			}
		}
	}
	if len(cards) > 0 {
		return cards
	}

	// Strategy 2: group chunks by parent xpath and pair names with
	// prices positionally.
	groups := map[string][]prune.Chunk{}
	var order []string
	for _, c := range chunks {
		if c.Type == prune.ChunkMeta || c.Type == prune.ChunkRSCData {
			continue
		}
		key := c.ParentXPath
		if key == "" {
			key = c.XPath
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		var priceLines, nameLines []string
		for _, c := range group {
			text := strings.TrimSpace(c.Text)
			if text == "" {
				continue
			}
			if cardPriceRe.MatchString(text) {
				priceLines = append(priceLines, text)
			} else if len(text) > 3 && len(text) < 200 {
				nameLines = append(nameLines, text)
			}
		}
		if len(priceLines) >= 2 && len(nameLines) > 0 {
			for i, name := range nameLines {
				if i >= len(priceLines) {
					break
				}
				price := cardPriceRe.FindString(priceLines[i])
				if price == "" {
					price = priceLines[i]
				}
				cards = append(cards, Card{Name: name, PriceText: price})
			}
		}
	}
	if len(cards) > 0 {
		return cards
	}

	// Strategy 3: adjacent name line followed by price line, or one
	// line carrying both.
	var texts []string
	for _, c := range chunks {
		if c.Type == prune.ChunkMeta || c.Type == prune.ChunkRSCData {
			continue
		}
		if text := strings.TrimSpace(c.Text); text != "" {
			texts = append(texts, text)
		}
	}
	for i := 0; i < len(texts); i++ {
		line := texts[i]
		if i+1 < len(texts) && !cardPriceRe.MatchString(line) &&
			len(line) > 3 && len(line) < 200 && cardPriceRe.MatchString(texts[i+1]) {
			cards = append(cards, Card{Name: line, PriceText: cardPriceRe.FindString(texts[i+1])})
			i++
			continue
		}
		if loc := cardPriceRe.FindStringIndex(line); loc != nil && len(line) > 15 {
			name := strings.Trim(line[:loc[0]], nameTrimSet)
			if len(name) > 2 {
				cards = append(cards, Card{Name: name, PriceText: line[loc[0]:loc[1]]})
			}
		}
	}
	return cards
}

// DetectProductCards runs the full cascade: JSON-LD ItemList metadata
// wins, chunk heuristics are the fallback. Output is deduplicated by
// lowercased name plus price.
func DetectProductCards(chunks []prune.Chunk, md Metadata) []Card {
	cards := md.Items
	if len(cards) == 0 && len(chunks) > 0 {
		cards = detectCardsFromChunks(chunks)
	}
	seen := map[string]bool{}
	deduped := make([]Card, 0, len(cards))
	for _, card := range cards {
		price := card.PriceText
		if price == "" && card.Price != nil {
			price = fmt.Sprintf("%g", *card.Price)
		}
		key := strings.ToLower(strings.TrimSpace(card.Name)) + "\x00" + price
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, card)
	}
	return deduped
}

// serializeCards renders cards as numbered "name | price | brand" lines.
func serializeCards(cards []Card, lc i18n.Locale) string {
	var lines []string
	for i, card := range cards {
		if i >= maxSerializedCards {
			break
		}
		parts := []string{card.Name}
		priceText := card.PriceText
		if priceText == "" && card.Price != nil {
			currency := card.Currency
			if currency == "" {
				currency = lc.Currency
			}
			priceText = FormatPrice(*card.Price, currency)
		}
		if priceText != "" {
			parts = append(parts, priceText)
		}
		if card.Brand != "" {
			parts = append(parts, card.Brand)
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.Join(parts, " | ")))
	}
	if len(cards) > maxSerializedCards {
		lines = append(lines, "... "+fmt.Sprintf(lc.OverflowTemplate, len(cards)-maxSerializedCards))
	}
	return strings.Join(lines, "\n")
}
