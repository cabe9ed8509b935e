package prune

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

func TestXPathSortKeyNumericOrder(t *testing.T) {
	paths := []string{
		"/html/body/div[10]",
		"/html/body/div[2]",
		"/html/body/div",
		"/html/body/div[2]/p",
	}
	assert.Negative(t, compareXPaths("/html/body/div[2]", "/html/body/div[10]"))
	assert.Positive(t, compareXPaths("/html/body/div[10]", "/html/body/div[2]/p"))
	assert.Negative(t, compareXPaths("/html/body/div", "/html/body/div[2]"))

	chunks := make([]Chunk, len(paths))
	for i, p := range paths {
		chunks[i] = Chunk{XPath: p, HTML: "<p>" + p + "</p>"}
	}
	merged := Remerge(chunks)
	i2 := strings.Index(merged, "div[2]/p")
	i10 := strings.Index(merged, "div[10]")
	assert.Less(t, i2, i10, "div[2]/p must sort before div[10]")
}

func TestExtractJSONLD(t *testing.T) {
	raw := `<html><head><script type="application/ld+json">{"@type": "Product"}</script></head><body></body></html>`
	chunks := extractJSONLD(raw)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkMeta, chunks[0].Type)
	assert.Contains(t, chunks[0].Text, `"@type": "Product"`)
}

func TestExtractOGMeta(t *testing.T) {
	raw := `<meta property="og:title" content="Blue Shoe"/>` +
		`<meta content="A fine shoe" property="og:description"/>`
	chunks := extractOGMeta(raw)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Blue Shoe", chunks[0].Attrs["og:title"])
	assert.Equal(t, "A fine shoe", chunks[0].Attrs["og:description"])
}

func TestExtractRSCData(t *testing.T) {
	raw := `<script>self.__next_f.push([1,"date 2024-10-22 more"])</script>` +
		`<script>self.__next_f.push([1,"no dates here"])</script>`
	chunks := extractRSCData(raw)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkRSCData, chunks[0].Type)
	assert.Contains(t, chunks[0].Text, "2024-10-22")
}

func TestCleanPass1RemovesNoise(t *testing.T) {
	raw := `<body><!-- comment --><script>var x=1</script><style>.a{}</style><p>keep me</p></body>`
	cleaned := cleanPass1(raw)
	assert.NotContains(t, cleaned, "var x=1")
	assert.NotContains(t, cleaned, ".a{}")
	assert.NotContains(t, cleaned, "comment")
	assert.Contains(t, cleaned, "keep me")
}

func TestDecompose(t *testing.T) {
	doc := parse(t, `<html><body><main><h1>Title</h1><p>Some paragraph text here</p>`+
		`<ul><li>alpha</li><li>beta</li></ul></main></body></html>`)
	chunks := Decompose(FindBody(doc))
	require.Len(t, chunks, 3)

	byType := map[ChunkType]Chunk{}
	for _, c := range chunks {
		byType[c.Type] = c
		assert.True(t, c.InMain, c.XPath)
	}
	assert.Equal(t, "Title", byType[ChunkHeading].Text)
	assert.Equal(t, "Some paragraph text here", byType[ChunkTextBlock].Text)
	assert.Equal(t, "alpha beta", byType[ChunkList].Text)
}

func TestFilterRemovesNavigation(t *testing.T) {
	doc := parse(t, `<html><body><nav><a href="/">HomeLink</a></nav>`+
		`<main><p>Real content lives here</p></main></body></html>`)
	stats := Filter(doc, "Generic", DefaultFilterThreshold)
	assert.Equal(t, 1, stats.RemovalReasons["semantic-nav"])

	chunks := Decompose(FindBody(doc))
	for _, c := range chunks {
		assert.NotContains(t, c.Text, "HomeLink")
	}
	assert.Contains(t, DerivePrunedRegions(stats), "navigation")
}

func TestFilterGovFooterException(t *testing.T) {
	page := `<html><body><main><p>x</p></main><footer>전화 02-1234-5678</footer></body></html>`

	doc := parse(t, page)
	Filter(doc, "Product", DefaultFilterThreshold)
	assert.NotContains(t, renderHTML(doc), "02-1234-5678")

	doc = parse(t, page)
	Filter(doc, "GovernmentPage", DefaultFilterThreshold)
	assert.Contains(t, renderHTML(doc), "02-1234-5678")
}

func TestFilterGridWhitelistProtectsLinkHeavyCards(t *testing.T) {
	card := `<div class="card"><a href="/p/1">A very long product name that is mostly link text in the card</a></div>`
	doc := parse(t, `<html><body><div class="grid">`+card+card+card+`</div></body></html>`)
	Filter(doc, "Product", DefaultFilterThreshold)
	assert.Contains(t, renderHTML(doc), "very long product name")
}

func TestFilterHiddenRemovedEvenInsideGrid(t *testing.T) {
	card := `<div class="card"><a href="/p/1">A very long product name that is mostly link text in the card</a></div>`
	hidden := `<div class="card" style="display:none"><a href="/x">HiddenTracker</a></div>`
	doc := parse(t, `<html><body><div class="grid">`+card+card+card+hidden+`</div></body></html>`)
	Filter(doc, "Product", DefaultFilterThreshold)
	out := renderHTML(doc)
	assert.NotContains(t, out, "HiddenTracker")
	assert.Contains(t, out, "very long product name")
}

func TestFilterNoiseContentOverride(t *testing.T) {
	// Two noise hits plus a content token keeps the node.
	doc := parse(t, `<html><body><div class="sidebar related article-body"><p>The article body text survives pruning</p></div></body></html>`)
	Filter(doc, "Generic", DefaultFilterThreshold)
	assert.Contains(t, renderHTML(doc), "article body text")

	doc = parse(t, `<html><body><div class="sidebar related"><p>pure noise block</p></div></body></html>`)
	Filter(doc, "Generic", DefaultFilterThreshold)
	assert.NotContains(t, renderHTML(doc), "pure noise block")
}

func TestPruneChunksMetaAlwaysKept(t *testing.T) {
	decided := PruneChunks([]Chunk{{Type: ChunkMeta, Text: "og:title=X"}}, "Product", true)
	require.Len(t, decided, 1)
	assert.True(t, decided[0].Decision.Keep)
	assert.Equal(t, "meta-always-keep", decided[0].Decision.Reason)
}

func TestPruneChunksProductPrice(t *testing.T) {
	decided := PruneChunks([]Chunk{
		{Type: ChunkTextBlock, Text: "189,000원", Tag: "div", Attrs: map[string]string{}},
	}, "Product", true)
	require.Len(t, decided, 1)
	assert.True(t, decided[0].Decision.Keep)
	assert.Contains(t, decided[0].Decision.Reason, "schema-match")
	assert.Contains(t, decided[0].Decision.MatchedFields, "price")
}

func TestPruneChunksRecommendationFilter(t *testing.T) {
	// Four price blocks: three in main kept, the fourth outside main
	// rejected as a recommendation rail.
	var chunks []Chunk
	for i := 0; i < 3; i++ {
		chunks = append(chunks, Chunk{Type: ChunkTextBlock, Text: "12,000원", InMain: true, Attrs: map[string]string{}})
	}
	chunks = append(chunks, Chunk{Type: ChunkTextBlock, Text: "9,900원", InMain: false, Attrs: map[string]string{}})

	decided := PruneChunks(chunks, "Product", true)
	require.Len(t, decided, 4)
	for i := 0; i < 3; i++ {
		assert.True(t, decided[i].Decision.Keep)
	}
	assert.False(t, decided[3].Decision.Keep)
	assert.Equal(t, "recommendation-filter", decided[3].Decision.Reason)
}

func TestPruneChunksInMainRules(t *testing.T) {
	long := strings.Repeat("text ", 20)
	decided := PruneChunks([]Chunk{
		{Type: ChunkHeading, Text: "Section", InMain: true, Attrs: map[string]string{}},
		{Type: ChunkTextBlock, Text: long, InMain: true, Attrs: map[string]string{}},
		{Type: ChunkTextBlock, Text: "nav label", InMain: true, Attrs: map[string]string{}},
		{Type: ChunkTextBlock, Text: "무료배송", InMain: true, Attrs: map[string]string{}},
		{Type: ChunkForm, Text: "search form", InMain: true, Attrs: map[string]string{}},
	}, "Generic", true)

	assert.Equal(t, "in-main-heading", decided[0].Decision.Reason)
	assert.Equal(t, "in-main-text", decided[1].Decision.Reason)
	assert.Equal(t, "in-main-short", decided[2].Decision.Reason)
	assert.False(t, decided[2].Decision.Keep)
	assert.Equal(t, "in-main-high-value-short", decided[3].Decision.Reason)
	assert.True(t, decided[3].Decision.Keep)
	assert.Equal(t, "in-main-form", decided[4].Decision.Reason)
}

func TestPruneChunksNoMainFallback(t *testing.T) {
	long := strings.Repeat("body text ", 10)
	decided := PruneChunks([]Chunk{
		{Type: ChunkHeading, Text: "Headline", Attrs: map[string]string{}},
		{Type: ChunkTextBlock, Text: long, Attrs: map[string]string{}},
		{Type: ChunkTextBlock, Text: "tiny", Attrs: map[string]string{}},
	}, "Generic", false)

	assert.Equal(t, "keep-heading-no-main", decided[0].Decision.Reason)
	assert.Equal(t, "keep-text-no-main", decided[1].Decision.Reason)
	assert.False(t, decided[2].Decision.Keep)
}

func TestStripNoisyTableRows(t *testing.T) {
	table := `<table><tr><td>Product A</td></tr><tr><td>123</td></tr><tr><td>N/A</td></tr><tr><td>-</td></tr></table>`
	out := stripNoisyTableRows(table)
	assert.Contains(t, out, "Product A")
	assert.NotContains(t, out, "123")
	assert.NotContains(t, out, "N/A")
}

func TestCompress(t *testing.T) {
	in := `<div class="wrap" id="main" data-v="1"><p style="color:red">Hello</p></div><span></span>`
	out := Compress(in)
	assert.Equal(t, "<p>Hello</p>", out)
}

func TestCompressKeepsSemanticAttrs(t *testing.T) {
	in := `<a href="/next" class="btn" onclick="go()">Next</a>`
	out := Compress(in)
	assert.Contains(t, out, `href="/next"`)
	assert.NotContains(t, out, "btn")
	assert.NotContains(t, out, "onclick")
}

func TestPagePipeline(t *testing.T) {
	raw := `<html><head>
<script type="application/ld+json">{"@type": "Product", "name": "Blue Shoe"}</script>
<style>` + strings.Repeat(".pad{margin:0}", 200) + `</style>
</head><body>
<nav><a href="/">MenuAlpha</a><a href="/b">MenuBeta</a></nav>
<main>
<h1>Blue Shoe</h1>
<p>` + strings.Repeat("A comfortable running shoe with a breathable mesh upper. ", 5) + `</p>
<div>189,000원</div>
</main>
<footer>CompanyFooterText</footer>
</body></html>`

	result := Page(raw, "Product")
	assert.Empty(t, result.Errors)
	assert.Contains(t, result.PrunedHTML, "Blue Shoe")
	assert.Contains(t, result.PrunedHTML, "189,000")
	assert.NotContains(t, result.PrunedHTML, "MenuAlpha")
	assert.NotContains(t, result.PrunedHTML, "CompanyFooterText")
	assert.Greater(t, result.TokenReductionPct, 0.0)
	assert.Greater(t, result.ChunkCountKept, 0)
	assert.NotEmpty(t, result.MetaChunks)
	assert.Contains(t, result.PrunedRegions, "navigation")
}

func TestPageEmptyInput(t *testing.T) {
	result := Page("", "Product")
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, result.PrunedHTML)
}
