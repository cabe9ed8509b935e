package prune

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Tags removed entirely during pass 1, after specials are extracted.
var removeTags = map[string]bool{
	"script": true, "style": true, "svg": true, "noscript": true,
	"link": true, "path": true, "defs": true, "iframe": true,
}

// Inline tags never form their own chunks.
var inlineTags = map[string]bool{
	"a": true, "abbr": true, "b": true, "bdi": true, "bdo": true, "br": true,
	"cite": true, "code": true, "data": true, "del": true, "dfn": true,
	"em": true, "i": true, "ins": true, "kbd": true, "mark": true, "q": true,
	"rp": true, "rt": true, "ruby": true, "s": true, "samp": true,
	"small": true, "span": true, "strong": true, "sub": true, "sup": true,
	"time": true, "u": true, "var": true, "wbr": true, "img": true, "label": true,
}

// Atomic boundary tags, whole subtree becomes one chunk.
var atomicTags = map[string]ChunkType{
	"table": ChunkTable, "thead": ChunkTable, "tbody": ChunkTable,
	"ul": ChunkList, "ol": ChunkList, "dl": ChunkList,
	"figure": ChunkMedia, "form": ChunkForm,
}

var headingTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var containerTags = map[string]bool{
	"article": true, "section": true, "main": true, "aside": true, "nav": true,
	"header": true, "footer": true, "div": true, "body": true, "html": true,
}

const (
	rscPayloadTruncateLen = 500
	maxDecomposeDepth     = 100
)

var (
	jsonLDScriptRe = regexp.MustCompile(`(?is)<script[^>]*type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)
	ogMetaRe       = regexp.MustCompile(`(?i)<meta[^>]*property\s*=\s*["']og:([^"']*)["'][^>]*content\s*=\s*["']([^"']*)["'][^>]*/?>`)
	ogMetaRevRe    = regexp.MustCompile(`(?i)<meta[^>]*content\s*=\s*["']([^"']*)["'][^>]*property\s*=\s*["']og:([^"']*)["'][^>]*/?>`)
	scriptBlockRe  = regexp.MustCompile(`(?is)<script[^>]*>(.*?)</script>`)
	rscDateRe      = regexp.MustCompile(`\d{4}[-./]\d{1,2}[-./]\d{1,2}`)
	commentRe      = regexp.MustCompile(`(?s)<!--.*?-->`)
	horizSpaceRe   = regexp.MustCompile(`[ \t]+`)
	blankLinesRe   = regexp.MustCompile(`\n\s*\n+`)
)

// extractJSONLD pulls JSON-LD scripts out of the raw HTML before the
// cleaning pass strips all scripts.
func extractJSONLD(raw string) []Chunk {
	var chunks []Chunk
	for i, m := range jsonLDScriptRe.FindAllStringSubmatch(raw, -1) {
		content := strings.TrimSpace(m[1])
		if content == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			XPath: fmt.Sprintf("/json-ld[%d]", i),
			HTML:  `<script type="application/ld+json">` + content + `</script>`,
			Text:  content,
			Tag:   "script",
			Type:  ChunkMeta,
			Attrs: map[string]string{"type": "application/ld+json"},
		})
	}
	return chunks
}

// extractOGMeta collects Open Graph meta tags into a single meta chunk,
// handling both attribute orders.
func extractOGMeta(raw string) []Chunk {
	og := map[string]string{}
	var order []string
	add := func(k, v string) {
		key := "og:" + k
		if _, seen := og[key]; !seen {
			order = append(order, key)
		}
		og[key] = v
	}
	for _, m := range ogMetaRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], m[2])
	}
	for _, m := range ogMetaRevRe.FindAllStringSubmatch(raw, -1) {
		add(m[2], m[1])
	}
	if len(og) == 0 {
		return nil
	}
	var htmlParts, textParts []string
	for _, k := range order {
		htmlParts = append(htmlParts, fmt.Sprintf(`<meta property=%q content=%q/>`, k, og[k]))
		textParts = append(textParts, k+"="+og[k])
	}
	return []Chunk{{
		XPath: "/og-meta",
		HTML:  strings.Join(htmlParts, " "),
		Text:  strings.Join(textParts, "; "),
		Tag:   "meta",
		Type:  ChunkMeta,
		Attrs: og,
	}}
}

// extractRSCData pulls dates embedded in Next.js RSC flight payloads.
// Some news sites ship the publication date only there.
func extractRSCData(raw string) []Chunk {
	var chunks []Chunk
	i := 0
	for _, m := range scriptBlockRe.FindAllStringSubmatch(raw, -1) {
		content := m[1]
		if !strings.Contains(content, "self.__next_f.push") {
			continue
		}
		dates := rscDateRe.FindAllString(content, -1)
		if len(dates) == 0 {
			continue
		}
		truncated := content
		if len(truncated) > rscPayloadTruncateLen {
			truncated = truncated[:rscPayloadTruncateLen]
		}
		chunks = append(chunks, Chunk{
			XPath: fmt.Sprintf("/rsc-data[%d]", i),
			HTML:  "<script>" + truncated + "</script>",
			Text:  "RSC dates: " + strings.Join(dates, ", "),
			Tag:   "script",
			Type:  ChunkRSCData,
			Attrs: map[string]string{"dates": strings.Join(dates, ",")},
		})
		i++
	}
	return chunks
}

// cleanPass1 is the pre-chunking cleanup: comments out, noise tags out,
// whitespace collapsed.
func cleanPass1(raw string) string {
	s := commentRe.ReplaceAllString(raw, "")
	for tag := range removeTags {
		pair := regexp.MustCompile(`(?is)<` + tag + `\b[^>]*>.*?</` + tag + `\s*>`)
		s = pair.ReplaceAllString(s, "")
		selfClosing := regexp.MustCompile(`(?i)<` + tag + `\b[^>]*/>`)
		s = selfClosing.ReplaceAllString(s, "")
	}
	s = horizSpaceRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// Preprocess extracts the special meta chunks and parses the cleaned
// HTML. No chunk decomposition happens here.
func Preprocess(rawHTML string) ([]Chunk, *html.Node, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return nil, nil, errorf("empty HTML input")
	}
	var meta []Chunk
	meta = append(meta, extractJSONLD(rawHTML)...)
	meta = append(meta, extractOGMeta(rawHTML)...)
	meta = append(meta, extractRSCData(rawHTML)...)

	cleaned := cleanPass1(rawHTML)
	if cleaned == "" {
		return nil, nil, errorf("HTML empty after pass 1 cleaning")
	}
	doc, err := html.Parse(strings.NewReader(cleaned))
	if err != nil {
		return nil, nil, errorf("HTML parsing failed: %v", err)
	}
	return meta, doc, nil
}

// --- DOM helpers over x/net/html nodes ---

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func elementTag(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// textContent joins all descendant text with whitespace collapsed.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func renderHTML(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}

// nodePath builds an XPath-like location for n. The sibling index is
// included only when the tag is not unique among its siblings, matching
// how document-order keys are parsed later.
func nodePath(n *html.Node) string {
	var steps []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		tag := elementTag(cur)
		index, total := siblingIndex(cur)
		if total > 1 {
			steps = append(steps, fmt.Sprintf("%s[%d]", tag, index))
		} else {
			steps = append(steps, tag)
		}
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return "/" + strings.Join(steps, "/")
}

// siblingIndex returns the 1-based position of n among same-tag element
// siblings and the total count of those siblings.
func siblingIndex(n *html.Node) (index, total int) {
	tag := elementTag(n)
	if n.Parent == nil {
		return 1, 1
	}
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if elementTag(c) != tag {
			continue
		}
		total++
		if c == n {
			index = total
		}
	}
	if total == 0 {
		return 1, 1
	}
	return index, total
}

func nodeDepth(n *html.Node) int {
	depth := 0
	for cur := n.Parent; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		depth++
	}
	return depth
}

func inMain(n *html.Node) bool {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if elementTag(cur) == "main" || strings.EqualFold(attrVal(cur, "role"), "main") {
			return true
		}
	}
	return false
}

var semanticAttrKeys = []string{
	"role", "aria-label", "aria-labelledby", "itemprop", "itemtype",
	"property", "content", "datetime", "href", "src", "alt", "title", "class",
}

func semanticAttrs(n *html.Node) map[string]string {
	attrs := map[string]string{}
	for _, key := range semanticAttrKeys {
		if v := attrVal(n, key); v != "" {
			attrs[key] = v
		}
	}
	return attrs
}

func hasBlockChildren(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		tag := elementTag(c)
		if tag != "" && !inlineTags[tag] {
			return true
		}
	}
	return false
}

// FindBody returns the <body> element, or the document root if missing.
func FindBody(doc *html.Node) *html.Node {
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if body != nil {
			return
		}
		if elementTag(n) == "body" {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if body == nil {
		return doc
	}
	return body
}

// Decompose walks an element recursively producing atomic chunks.
func Decompose(el *html.Node) []Chunk {
	return decompose(el, 0)
}

func decompose(el *html.Node, depth int) []Chunk {
	if depth > maxDecomposeDepth {
		return nil
	}
	tag := elementTag(el)
	if tag == "" || removeTags[tag] {
		return nil
	}
	text := textContent(el)

	newChunk := func(ct ChunkType) []Chunk {
		parentPath := ""
		if el.Parent != nil && el.Parent.Type == html.ElementNode {
			parentPath = nodePath(el.Parent)
		}
		return []Chunk{{
			XPath:       nodePath(el),
			HTML:        renderHTML(el),
			Text:        text,
			Tag:         tag,
			Type:        ct,
			Attrs:       semanticAttrs(el),
			ParentXPath: parentPath,
			Depth:       nodeDepth(el),
			InMain:      inMain(el) || tag == "main",
		}}
	}

	recurse := func() []Chunk {
		var chunks []Chunk
		for c := el.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				chunks = append(chunks, decompose(c, depth+1)...)
			}
		}
		return chunks
	}

	switch {
	case atomicTags[tag] != "":
		if text == "" {
			return nil
		}
		return newChunk(atomicTags[tag])
	case headingTags[tag]:
		if text == "" {
			return nil
		}
		return newChunk(ChunkHeading)
	case tag == "p":
		if text == "" {
			return nil
		}
		return newChunk(ChunkTextBlock)
	case containerTags[tag]:
		if hasBlockChildren(el) {
			return recurse()
		}
		if text == "" {
			return nil
		}
		return newChunk(ChunkTextBlock)
	case !inlineTags[tag]:
		if hasBlockChildren(el) {
			return recurse()
		}
		if text != "" {
			return newChunk(ChunkTextBlock)
		}
	}
	return nil
}
