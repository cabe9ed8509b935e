package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	assert.Zero(t, Count(""))
	assert.Greater(t, Count("hello world"), 0)
	// Token counts grow with content.
	assert.Greater(t, Count(strings.Repeat("lorem ipsum dolor ", 50)), Count("lorem ipsum"))
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 100)
	got := Truncate(long, 50)
	assert.LessOrEqual(t, Count(got), 50)
	assert.True(t, utf8.ValidString(got))

	short := "tiny"
	assert.Equal(t, short, Truncate(short, 50))
	assert.Equal(t, "", Truncate(long, 0))
}

func TestComputeBudgetLocaleDefaults(t *testing.T) {
	en := ComputeBudget("en", "")
	assert.Equal(t, 1.0, en.Multiplier)
	assert.Equal(t, BasePrunedTokens, en.PrunedContext)
	assert.Equal(t, BaseTotalTokens, en.Total)

	ko := ComputeBudget("ko", "")
	assert.Equal(t, 1.8, ko.Multiplier)
	assert.Equal(t, int(BasePrunedTokens*1.8), ko.PrunedContext)

	ja := ComputeBudget("ja", "")
	assert.Equal(t, 1.5, ja.Multiplier)
}

func TestComputeBudgetCJKContentLiftsNonCJKLocale(t *testing.T) {
	korean := strings.Repeat("안녕하세요 세계 ", 100)
	b := ComputeBudget("en", korean)
	assert.Greater(t, b.Multiplier, 1.0)
	assert.LessOrEqual(t, b.Multiplier, 2.5)
	assert.Greater(t, b.CJKRatio, 0.3)
}

func TestComputeBudgetNonCJKContentLowersCJKLocale(t *testing.T) {
	english := strings.Repeat("plain english words only here ", 100)
	b := ComputeBudget("ko", english)
	assert.Less(t, b.Multiplier, 1.8)
	assert.GreaterOrEqual(t, b.Multiplier, 1.0)
}

func TestMultiplierClamped(t *testing.T) {
	for _, locale := range []string{"en", "ko", "ja", "de", "fr", ""} {
		for _, text := range []string{"", "english", strings.Repeat("漢字", 500)} {
			b := ComputeBudget(locale, text)
			assert.GreaterOrEqual(t, b.Multiplier, 1.0)
			assert.LessOrEqual(t, b.Multiplier, 2.5)
		}
	}
}
