// Package tokens wraps the cl100k_base BPE tokenizer used for every
// budget decision in the pipeline, and computes locale-aware token
// budgets. The vocabulary is embedded in the tokenizer library, so
// counting never touches the network.
package tokens

import (
	"strings"
	"sync"
	"unicode"

	"github.com/tiktoken-go/tokenizer"
)

var (
	encOnce sync.Once
	enc     tokenizer.Codec
)

func codec() tokenizer.Codec {
	encOnce.Do(func() {
		var err error
		enc, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			// The vocabulary is compiled in; failure here means a broken
			// build, not a runtime condition.
			panic("cl100k_base tokenizer unavailable: " + err.Error())
		}
	})
	return enc
}

// Count returns the cl100k_base token count of s.
func Count(s string) int {
	if s == "" {
		return 0
	}
	ids, _, err := codec().Encode(s)
	if err != nil {
		// Fall back to a conservative estimate rather than failing the
		// pipeline over a counting problem.
		return len(s) / 3
	}
	return len(ids)
}

// Truncate cuts s to at most maxTokens tokens, decoding back so the
// result is always valid UTF-8.
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	ids, _, err := codec().Encode(s)
	if err != nil || len(ids) <= maxTokens {
		return s
	}
	out, err := codec().Decode(ids[:maxTokens])
	if err != nil {
		return s
	}
	return strings.ToValidUTF8(out, "")
}

// Budget is the resolved token allocation for one page build.
type Budget struct {
	PrunedContext int
	Total         int
	Multiplier    float64
	CJKRatio      float64
}

const (
	// BasePrunedTokens is the pre-multiplier pruned-context budget.
	BasePrunedTokens = 1500
	// BaseTotalTokens is the pre-multiplier whole-response budget.
	BaseTotalTokens = 5000

	minMultiplier = 1.0
	maxMultiplier = 2.5
	// cjkSampleLen bounds how much visible text is sampled for the ratio.
	cjkSampleLen = 2000
)

// localeMultipliers reflects how much denser cl100k tokenization is for
// CJK scripts.
var localeMultipliers = map[string]float64{
	"ko": 1.8,
	"ja": 1.5,
}

// ComputeBudget resolves the token budget for a locale, optionally
// adjusted by the CJK character ratio of the page's visible text: a
// nominally non-CJK locale serving CJK-heavy content gets its multiplier
// lifted, and vice versa. The multiplier is clamped to [1.0, 2.5].
func ComputeBudget(locale string, visibleText string) Budget {
	mult, ok := localeMultipliers[locale]
	if !ok {
		mult = 1.0
	}
	ratio := cjkRatio(visibleText)
	if visibleText != "" {
		switch {
		case mult == 1.0 && ratio > 0.3:
			mult = 1.0 + ratio
		case mult > 1.0 && ratio < 0.1:
			mult = 1.0 + (mult-1.0)*ratio/0.1
		}
	}
	if mult < minMultiplier {
		mult = minMultiplier
	}
	if mult > maxMultiplier {
		mult = maxMultiplier
	}
	return Budget{
		PrunedContext: int(BasePrunedTokens * mult),
		Total:         int(BaseTotalTokens * mult),
		Multiplier:    mult,
		CJKRatio:      ratio,
	}
}

// cjkRatio is cjk_letters / total_letters over the first cjkSampleLen
// runes, ignoring non-letter characters.
func cjkRatio(s string) float64 {
	var cjk, letters int
	for i, r := range s {
		if i >= cjkSampleLen*4 { // byte bound approximating the rune cap
			break
		}
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if isCJK(r) {
			cjk++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(cjk) / float64(letters)
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hangul, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r)
}
