// Package contextbuild turns pruned HTML into the compact pruned_context
// string that ships inside a page map. Compression strategy is dispatched
// on page type and schema, structured metadata is preferred over regex
// scraping, and every output is verified against the token budget.
package contextbuild

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Retio-ai/pagemap/internal/prune"
	"github.com/Retio-ai/pagemap/internal/sanitize"
)

// Metadata holds the structured fields recovered from JSON-LD, itemprop
// and OG meta. Pointer fields distinguish absent from zero.
type Metadata struct {
	Name          string
	Headline      string
	Price         *float64
	Currency      string
	Brand         string
	Rating        *float64
	ReviewCount   *int
	ImageURL      string
	Author        string
	DatePublished string
	Publisher     string
	Items         []Card
	MCGActivated  bool
}

// Empty reports whether no field was extracted.
func (m Metadata) Empty() bool {
	return m.Name == "" && m.Headline == "" && m.Price == nil && m.Brand == "" &&
		m.Rating == nil && m.ReviewCount == nil && m.Author == "" &&
		m.DatePublished == "" && m.Publisher == "" && len(m.Items) == 0
}

func toFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return &f
		}
	}
	return nil
}

func toInt(v any) *int {
	if f := toFloat(v); f != nil {
		i := int(*f)
		return &i
	}
	return nil
}

func cleanText(s string) string {
	return sanitize.Text(strings.TrimSpace(s), 200)
}

func jsonLDTypeIs(data map[string]any, want ...string) bool {
	match := func(s string) bool {
		for _, w := range want {
			if s == w {
				return true
			}
		}
		return false
	}
	switch t := data["@type"].(type) {
	case string:
		return match(t)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && match(s) {
				return true
			}
		}
	}
	return false
}

func findInJSONLD(data any, want ...string) map[string]any {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if found := findInJSONLD(item, want...); found != nil {
				return found
			}
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			if found := findInJSONLD(graph, want...); found != nil {
				return found
			}
		}
		if jsonLDTypeIs(v, want...) {
			return v
		}
	}
	return nil
}

// priceFromOffers handles the offers polymorphism: Offer, a list of
// Offers, or an AggregateOffer.
func priceFromOffers(offers any) (*float64, string) {
	if list, ok := offers.([]any); ok {
		if len(list) == 0 {
			return nil, ""
		}
		offers = list[0]
	}
	obj, ok := offers.(map[string]any)
	if !ok {
		return nil, ""
	}
	var price *float64
	if t, _ := obj["@type"].(string); t == "AggregateOffer" {
		price = toFloat(obj["lowPrice"])
		if price == nil {
			price = toFloat(obj["price"])
		}
		if inner, ok := obj["offers"].([]any); ok && len(inner) > 0 {
			if first, ok := inner[0].(map[string]any); ok {
				if p := toFloat(first["price"]); p != nil {
					price = p
				}
			}
		}
	} else {
		price = toFloat(obj["price"])
	}
	currency, _ := obj["priceCurrency"].(string)
	return price, currency
}

func brandName(brand any) string {
	switch b := brand.(type) {
	case string:
		return cleanText(b)
	case map[string]any:
		if name, ok := b["name"].(string); ok {
			return cleanText(name)
		}
	}
	return ""
}

func parseJSONLDProduct(metaChunks []prune.Chunk) Metadata {
	var md Metadata
	for _, chunk := range metaChunks {
		if chunk.Attrs["type"] != "application/ld+json" {
			continue
		}
		var data any
		if err := json.Unmarshal([]byte(chunk.Text), &data); err != nil {
			continue
		}
		product := findInJSONLD(data, "Product", "IndividualProduct")
		if product == nil {
			continue
		}
		if name, ok := product["name"].(string); ok {
			md.Name = cleanText(name)
		}
		md.Price, md.Currency = priceFromOffers(product["offers"])
		md.Brand = brandName(product["brand"])
		if agg, ok := product["aggregateRating"].(map[string]any); ok {
			md.Rating = toFloat(agg["ratingValue"])
			md.ReviewCount = toInt(agg["reviewCount"])
		}
		switch img := product["image"].(type) {
		case string:
			md.ImageURL = img
		case []any:
			if len(img) > 0 {
				if s, ok := img[0].(string); ok {
					md.ImageURL = s
				}
			}
		}
		return md
	}
	return md
}

// parseJSONLDItemList extracts listing cards from an ItemList payload.
func parseJSONLDItemList(metaChunks []prune.Chunk) []Card {
	for _, chunk := range metaChunks {
		if chunk.Attrs["type"] != "application/ld+json" {
			continue
		}
		var data any
		if err := json.Unmarshal([]byte(chunk.Text), &data); err != nil {
			continue
		}
		itemList := findInJSONLD(data, "ItemList")
		if itemList == nil {
			continue
		}
		elements, ok := itemList["itemListElement"].([]any)
		if !ok {
			continue
		}
		var cards []Card
		for _, el := range elements {
			elObj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			var card Card
			if pos := toInt(elObj["position"]); pos != nil {
				card.Position = *pos
			}
			product := elObj
			if item, ok := elObj["item"].(map[string]any); ok {
				product = item
			}
			if name, ok := product["name"].(string); ok {
				card.Name = cleanText(name)
			} else if headline, ok := product["headline"].(string); ok {
				card.Name = cleanText(headline)
			}
			if offers, ok := product["offers"]; ok {
				card.Price, card.Currency = priceFromOffers(offers)
			}
			if card.Price == nil {
				card.Price = toFloat(product["price"])
			}
			card.Brand = brandName(product["brand"])
			if url, ok := product["url"].(string); ok {
				card.URL = url
			} else if url, ok := elObj["url"].(string); ok {
				card.URL = url
			}
			if card.Name != "" {
				cards = append(cards, card)
			}
		}
		if len(cards) > 0 {
			return cards
		}
	}
	return nil
}

var itempropFieldMap = map[string]map[string]string{
	"Product": {
		"name": "name", "price": "price", "priceCurrency": "currency",
		"brand": "brand", "ratingValue": "rating", "reviewCount": "review_count",
	},
	"NewsArticle": {
		"headline": "headline", "author": "author", "datePublished": "date_published",
	},
}

func parseItemprop(headingChunks []prune.Chunk, schemaName string, md *Metadata) {
	fieldMap := itempropFieldMap[schemaName]
	for _, chunk := range headingChunks {
		prop := chunk.Attrs["itemprop"]
		field, ok := fieldMap[prop]
		if !ok {
			continue
		}
		value := chunk.Attrs["content"]
		if value == "" {
			value = strings.TrimSpace(chunk.Text)
		}
		if value == "" {
			continue
		}
		switch field {
		case "name":
			if md.Name == "" {
				md.Name = cleanText(value)
			}
		case "headline":
			if md.Headline == "" {
				md.Headline = cleanText(value)
			}
		case "price":
			if md.Price == nil {
				md.Price = toFloat(value)
			}
		case "currency":
			if md.Currency == "" {
				md.Currency = value
			}
		case "brand":
			if md.Brand == "" {
				md.Brand = cleanText(value)
			}
		case "rating":
			if md.Rating == nil {
				md.Rating = toFloat(value)
			}
		case "review_count":
			if md.ReviewCount == nil {
				md.ReviewCount = toInt(value)
			}
		case "author":
			if md.Author == "" {
				md.Author = cleanText(value)
			}
		case "date_published":
			if md.DatePublished == "" {
				md.DatePublished = cleanText(value)
			}
		}
	}
}

var ogFieldMap = map[string]map[string]string{
	"Product": {
		"og:title": "name", "og:image": "image_url",
		"og:price:amount": "price", "og:price:currency": "currency",
		"product:price:amount": "price", "product:price:currency": "currency",
	},
	"NewsArticle": {
		"og:title": "headline", "article:published_time": "date_published",
		"article:author": "author", "og:site_name": "publisher",
	},
}

func parseOGMeta(metaChunks []prune.Chunk, schemaName string, md *Metadata) {
	ogMap := ogFieldMap[schemaName]
	for _, chunk := range metaChunks {
		if chunk.Type != prune.ChunkMeta {
			continue
		}
		for ogKey, field := range ogMap {
			value, ok := chunk.Attrs[ogKey]
			if !ok || value == "" {
				continue
			}
			switch field {
			case "name":
				if md.Name == "" {
					md.Name = cleanText(value)
				}
			case "headline":
				if md.Headline == "" {
					md.Headline = cleanText(value)
				}
			case "image_url":
				if md.ImageURL == "" {
					md.ImageURL = value
				}
			case "price":
				if md.Price == nil {
					md.Price = toFloat(value)
				}
			case "currency":
				if md.Currency == "" {
					md.Currency = value
				}
			case "date_published":
				if md.DatePublished == "" {
					md.DatePublished = cleanText(value)
				}
			case "author":
				if md.Author == "" {
					md.Author = cleanText(value)
				}
			case "publisher":
				if md.Publisher == "" {
					md.Publisher = cleanText(value)
				}
			}
		}
	}
}

func firstH1(headingChunks []prune.Chunk) string {
	for _, chunk := range headingChunks {
		if chunk.Tag != "h1" {
			continue
		}
		text := strings.TrimSpace(chunk.Text)
		if len(text) > 3 && len(text) < 300 {
			return text
		}
	}
	return ""
}

// ExtractMetadata recovers structured fields from pre-parsed chunks.
// Cascade priority: JSON-LD, then itemprop, then OG meta, then a
// first-h1 fallback for the name.
func ExtractMetadata(metaChunks, headingChunks []prune.Chunk, schemaName string) Metadata {
	var md Metadata
	if schemaName == "Product" {
		md = parseJSONLDProduct(metaChunks)
	}
	md.Items = parseJSONLDItemList(metaChunks)
	parseItemprop(headingChunks, schemaName, &md)
	parseOGMeta(metaChunks, schemaName, &md)

	if schemaName == "NewsArticle" {
		if md.Headline == "" {
			md.Headline = firstH1(headingChunks)
		}
	} else if md.Name == "" {
		md.Name = firstH1(headingChunks)
	}
	return md
}
