// Package classify assigns a page type and a structured-data schema to a
// page. Page type is a weighted vote over three signal layers evaluated
// together: URL string matching, meta/JSON-LD regexes on the raw HTML, and
// lightweight DOM structure counting. Each signal can push several types
// up or down at once, which avoids the dict-order bugs of a first-match
// waterfall.
package classify

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// PageType values, orthogonal to schema.
const (
	ProductDetail = "product_detail"
	SearchResults = "search_results"
	Article       = "article"
	Listing       = "listing"
	News          = "news"
	Login         = "login"
	Form          = "form"
	Checkout      = "checkout"
	Dashboard     = "dashboard"
	HelpFAQ       = "help_faq"
	Settings      = "settings"
	ErrorPage     = "error"
	Documentation = "documentation"
	Landing       = "landing"
	Video         = "video"
	Blocked       = "blocked"
	Unknown       = "unknown"
)

// Schema names.
const (
	SchemaProduct        = "Product"
	SchemaNewsArticle    = "NewsArticle"
	SchemaWikiArticle    = "WikiArticle"
	SchemaSaaSPage       = "SaaSPage"
	SchemaGovernmentPage = "GovernmentPage"
	SchemaFAQPage        = "FAQPage"
	SchemaEvent          = "Event"
	SchemaLocalBusiness  = "LocalBusiness"
	SchemaVideoObject    = "VideoObject"
	SchemaGeneric        = "Generic"
)

// Result is the classification outcome.
type Result struct {
	PageType   string
	Confidence float64
	Score      int
	Signals    []string
	RunnerUp   string
}

type signal struct {
	name   string
	scores map[string]int
	check  func(s string) bool
}

// Per-type score thresholds; below threshold the page stays unknown.
var thresholds = map[string]int{
	ProductDetail: 20, SearchResults: 20, Article: 20, News: 20, Listing: 20,
	Login: 20, Checkout: 20, ErrorPage: 25,
	HelpFAQ: 20, Documentation: 20, Form: 20, Dashboard: 20, Settings: 20,
	Landing: 25, Blocked: 20, Video: 25,
}

const (
	defaultThreshold = 50
	// domCap bounds the positive DOM-layer contribution per type so
	// structure counting stays influential but never dominant.
	domCap = 40
)

var urlSignals = []signal{
	{"url_vp_products", map[string]int{ProductDetail: 25}, func(u string) bool { return strings.Contains(u, "/vp/products/") }},
	{"url_products", map[string]int{ProductDetail: 20}, func(u string) bool { return strings.Contains(u, "/products/") }},
	{"url_goods", map[string]int{ProductDetail: 20}, func(u string) bool { return strings.Contains(u, "/good") && !strings.Contains(u, "/goodbye") }},
	{"url_item", map[string]int{ProductDetail: 20}, func(u string) bool { return strings.Contains(u, "/item/") }},
	{"url_product", map[string]int{ProductDetail: 25}, func(u string) bool { return strings.Contains(u, "/product/") || strings.Contains(u, "/product.") }},
	{"url_dp", map[string]int{ProductDetail: 20}, func(u string) bool { return strings.Contains(u, "/dp/") }},
	{"url_search", map[string]int{SearchResults: 25, Listing: -10}, func(u string) bool { return strings.Contains(u, "/search") }},
	{"url_q_param", map[string]int{SearchResults: 25}, func(u string) bool { return strings.Contains(u, "?q=") || strings.Contains(u, "&q=") }},
	{"url_query_param", map[string]int{SearchResults: 25}, func(u string) bool { return strings.Contains(u, "?query=") || strings.Contains(u, "&query=") }},
	{"url_keyword_param", map[string]int{SearchResults: 25}, func(u string) bool { return strings.Contains(u, "?keyword=") || strings.Contains(u, "&keyword=") }},
	{"url_browse", map[string]int{SearchResults: 20}, func(u string) bool { return strings.Contains(u, "/browse") }},
	{"url_article", map[string]int{Article: 25, News: 5}, func(u string) bool { return strings.Contains(u, "/article/") || strings.Contains(u, "/articles/") }},
	{"url_wiki", map[string]int{Article: 30}, func(u string) bool { return strings.Contains(u, "/wiki/") }},
	{"url_blog", map[string]int{Article: 25}, func(u string) bool { return strings.Contains(u, "/blog/") }},
	{"url_post", map[string]int{Article: 20}, func(u string) bool { return strings.Contains(u, "/post/") }},
	{"url_news", map[string]int{News: 25, Article: 10}, func(u string) bool { return strings.Contains(u, "/news/") }},
	{"url_list", map[string]int{Listing: 20}, func(u string) bool { return strings.Contains(u, "/list") && !strings.Contains(u, "/listing") }},
	{"url_ranking", map[string]int{Listing: 20}, func(u string) bool { return strings.Contains(u, "/ranking") }},
	{"url_best", map[string]int{Listing: 20}, func(u string) bool { return strings.Contains(u, "/best") }},
	{"url_category", map[string]int{Listing: 25}, func(u string) bool { return strings.Contains(u, "/category/") || strings.Contains(u, "/categories/") }},
	{"url_login", map[string]int{Login: 25, Form: -10}, func(u string) bool {
		return strings.Contains(u, "/login") || strings.Contains(u, "/signin") || strings.Contains(u, "/sign-in")
	}},
	{"url_auth", map[string]int{Login: 20}, func(u string) bool { return strings.Contains(u, "/auth") && !strings.Contains(u, "/author") }},
	{"url_checkout", map[string]int{Checkout: 25, ProductDetail: -10}, func(u string) bool { return strings.Contains(u, "/checkout") }},
	{"url_payment", map[string]int{Checkout: 25}, func(u string) bool { return strings.Contains(u, "/payment") }},
	{"url_register", map[string]int{Form: 20, Login: -10}, func(u string) bool {
		return strings.Contains(u, "/register") || strings.Contains(u, "/signup") || strings.Contains(u, "/sign-up")
	}},
	{"url_contact", map[string]int{Form: 20}, func(u string) bool { return strings.Contains(u, "/contact") }},
	{"url_dashboard", map[string]int{Dashboard: 20}, func(u string) bool { return strings.Contains(u, "/dashboard") }},
	{"url_admin", map[string]int{Dashboard: 20}, func(u string) bool { return strings.Contains(u, "/admin") }},
	{"url_faq", map[string]int{HelpFAQ: 20, Article: -10}, func(u string) bool { return strings.Contains(u, "/faq") }},
	{"url_help", map[string]int{HelpFAQ: 20}, func(u string) bool { return strings.Contains(u, "/help") }},
	{"url_support", map[string]int{HelpFAQ: 20}, func(u string) bool { return strings.Contains(u, "/support") }},
	{"url_settings", map[string]int{Settings: 20, Form: -10}, func(u string) bool { return strings.Contains(u, "/settings") || strings.Contains(u, "/preferences") }},
	{"url_404", map[string]int{ErrorPage: 15}, func(u string) bool { return strings.Contains(u, "/404") }},
	{"url_error", map[string]int{ErrorPage: 15}, func(u string) bool { return strings.Contains(u, "/error") }},
	{"url_docs", map[string]int{Documentation: 20, Article: -5}, func(u string) bool { return strings.Contains(u, "/docs") || strings.Contains(u, "/documentation") }},
	{"url_api_ref", map[string]int{Documentation: 25}, func(u string) bool { return strings.Contains(u, "/api-reference") || strings.Contains(u, "/api-docs") }},
	{"url_root", map[string]int{Landing: 30, Listing: -10}, isRootURL},
	{"url_captcha", map[string]int{Blocked: 25, ErrorPage: -10}, func(u string) bool { return strings.Contains(u, "/captcha") }},
	{"url_challenge", map[string]int{Blocked: 25, ErrorPage: -10}, func(u string) bool { return strings.Contains(u, "/challenge") && !strings.Contains(u, "/challenges") }},
	{"url_cf_verify", map[string]int{Blocked: 30}, func(u string) bool {
		return strings.Contains(u, "challenge-platform") || strings.Contains(u, "cf-browser-verification")
	}},
	{"url_video", map[string]int{Video: 30}, func(u string) bool {
		return strings.Contains(u, "/watch?v=") || strings.Contains(u, "/video/") || strings.Contains(u, "/videos/")
	}},
}

var (
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	ogTypeRe = regexp.MustCompile(`(?i)property=["']og:type["'][^>]*content=["']([^"']+)`)
	jsonLDRe = regexp.MustCompile(`(?is)<script[^>]*type=["']application/ld\+json["'][^>]*>(.*?)</script>`)
)

func titleContains(html string, terms ...string) bool {
	m := titleRe.FindStringSubmatch(html)
	if m == nil {
		return false
	}
	title := strings.ToLower(m[1])
	for _, t := range terms {
		if strings.Contains(title, t) {
			return true
		}
	}
	return false
}

var metaSignals = []signal{
	{"meta_title_login", map[string]int{Login: 15}, func(h string) bool {
		return titleContains(h, "login", "sign in", "log in", "로그인", "ログイン", "se connecter", "anmelden")
	}},
	{"meta_title_error", map[string]int{ErrorPage: 35}, func(h string) bool {
		return titleContains(h, "404", "500", "not found", "page not found", "페이지를 찾을 수 없", "ページが見つかりません")
	}},
	{"meta_title_faq", map[string]int{HelpFAQ: 15}, func(h string) bool {
		return titleContains(h, "faq", "frequently asked", "자주 묻는 질문", "よくある質問", "help center", "도움말")
	}},
	{"meta_og_article", map[string]int{Article: 20}, func(h string) bool {
		m := ogTypeRe.FindStringSubmatch(h)
		return m != nil && strings.EqualFold(m[1], "article")
	}},
	{"meta_title_blocked", map[string]int{Blocked: 30, ErrorPage: -15}, func(h string) bool {
		return titleContains(h, "access denied", "attention required", "please verify", "just a moment",
			"you have been blocked", "접근이 거부", "アクセスが拒否")
	}},
}

// JSON-LD @type mapped to page types, applied once per page.
var jsonLDPageTypes = map[string]string{
	"Product": ProductDetail, "IndividualProduct": ProductDetail,
	"NewsArticle": News, "ReportageNewsArticle": News,
	"Article": Article, "BlogPosting": Article,
	"FAQPage": HelpFAQ, "ContactPage": Form, "CheckoutPage": Checkout,
	"VideoObject": Video,
	"Event":       Landing, "LocalBusiness": Landing, "Restaurant": Landing,
	"Hotel": Landing, "Store": Landing,
}

var jsonLDWeights = map[string]int{
	ProductDetail: 40, News: 40, Article: 40, HelpFAQ: 40, Form: 35, Checkout: 40, Video: 40,
}

var domSignals = []signal{
	{"dom_password_input", map[string]int{Login: 30, Form: -15, Settings: -10}, func(h string) bool {
		return strings.Contains(h, `type="password"`) || strings.Contains(h, "type='password'")
	}},
	{"dom_cc_fields", map[string]int{Checkout: 30, Form: -10}, func(h string) bool {
		return strings.Contains(h, `autocomplete="cc-`) || strings.Contains(h, "autocomplete='cc-")
	}},
	{"dom_many_fields_no_password", map[string]int{Form: 25, Login: -20}, func(h string) bool {
		return strings.Count(h, "<input") > 5 && !strings.Contains(h, `type="password"`) && !strings.Contains(h, "type='password'")
	}},
	{"dom_textarea", map[string]int{Form: 15}, func(h string) bool { return strings.Contains(h, "<textarea") }},
	{"dom_many_tables", map[string]int{Dashboard: 25, Article: -10}, func(h string) bool { return strings.Count(h, "<table") >= 2 }},
	{"dom_chart_elements", map[string]int{Dashboard: 25}, func(h string) bool {
		return strings.Count(h, "<canvas")+strings.Count(h, "<svg") >= 3
	}},
	{"dom_details_elements", map[string]int{HelpFAQ: 30, Article: -10}, func(h string) bool { return strings.Count(h, "<details") >= 3 }},
	{"dom_switch_role", map[string]int{Settings: 15, Form: -10, Login: -15}, func(h string) bool { return strings.Contains(h, `role="switch"`) }},
	{"dom_not_found_text", map[string]int{ErrorPage: 25}, func(h string) bool {
		for _, kw := range []string{"page not found", "페이지를 찾을 수 없", "ページが見つかりません", "page introuvable", "seite nicht gefunden"} {
			if strings.Contains(h, kw) {
				return true
			}
		}
		return false
	}},
	{"dom_code_blocks", map[string]int{Documentation: 30, Article: -5}, func(h string) bool {
		return strings.Count(h, "<code")+strings.Count(h, "<pre") >= 3
	}},
	{"dom_mw_content", map[string]int{Article: 25, Dashboard: -20}, func(h string) bool {
		return strings.Contains(h, "mw-content-text") || strings.Contains(h, "mw-parser-output")
	}},
	{"dom_many_sections", map[string]int{Landing: 15}, func(h string) bool { return strings.Count(h, "<section") >= 5 }},
	{"dom_add_to_cart", map[string]int{ProductDetail: 20}, func(h string) bool {
		for _, kw := range []string{"add to cart", "add to bag", "buy now", "장바구니", "구매하기", "바로구매", "カートに入れる", "ajouter au panier", "in den warenkorb"} {
			if strings.Contains(h, kw) {
				return true
			}
		}
		return false
	}},
	{"dom_captcha_element", map[string]int{Blocked: 30, ErrorPage: -10}, func(h string) bool {
		for _, kw := range []string{"g-recaptcha", "h-captcha", "cf-turnstile", "challenge-form", "captcha-container"} {
			if strings.Contains(h, kw) {
				return true
			}
		}
		return false
	}},
	{"dom_cf_challenge", map[string]int{Blocked: 35}, func(h string) bool {
		for _, kw := range []string{"cf-browser-verification", "challenge-platform", "cf-chl-bypass", "challenge-running"} {
			if strings.Contains(h, kw) {
				return true
			}
		}
		return false
	}},
	{"dom_just_a_moment", map[string]int{Blocked: 30}, func(h string) bool {
		return strings.Contains(h, "just a moment") && strippedTextLen(h) < 2000
	}},
	{"dom_blocked_short", map[string]int{Blocked: 35, ErrorPage: -10}, func(h string) bool {
		if strippedTextLen(h) >= 2000 {
			return false
		}
		for _, kw := range []string{"access denied", "access blocked", "forbidden", "접근이 거부", "アクセスが拒否"} {
			if strings.Contains(h, kw) {
				return true
			}
		}
		return false
	}},
}

func isRootURL(u string) bool {
	// Strip scheme and host, then query/fragment.
	rest := u
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return true
	}
	path := rest[slash:]
	return path == "/" || path == "" || strings.HasPrefix(path, "/index")
}

var tagRe = regexp.MustCompile(`(?s)<[^>]*>`)

func strippedTextLen(html string) int {
	return len(strings.TrimSpace(tagRe.ReplaceAllString(html, " ")))
}

// Page classifies a URL plus optional raw HTML. With a strong URL verdict
// (score above twice the threshold) the meta/DOM layers are skipped,
// except for blocked-page signals: captcha interstitials can appear on
// any URL shape and must always win.
func Page(url string, rawHTML string) Result {
	urlLower := strings.ToLower(url)
	scores := map[string]int{}
	var fired []string

	apply := func(sig signal, input string) {
		if sig.check(input) {
			fired = append(fired, sig.name)
			for t, w := range sig.scores {
				scores[t] += w
			}
		}
	}

	for _, sig := range urlSignals {
		apply(sig, urlLower)
	}

	shortCircuit := false
	if top, score := topScore(scores); top != "" {
		th := threshold(top)
		shortCircuit = score > th*2
	}

	if rawHTML != "" {
		htmlLower := strings.ToLower(rawHTML)
		blockedOnly := shortCircuit
		for _, sig := range metaSignals {
			if blockedOnly && sig.scores[Blocked] == 0 {
				continue
			}
			apply(sig, rawHTML)
		}
		if !blockedOnly {
			if pt := jsonLDPageType(rawHTML); pt != "" {
				if w, ok := jsonLDWeights[pt]; ok {
					fired = append(fired, "meta_jsonld_"+pt)
					scores[pt] += w
				}
			}
		}
		domPos := map[string]int{}
		for _, sig := range domSignals {
			if blockedOnly && sig.scores[Blocked] == 0 {
				continue
			}
			if sig.check(htmlLower) {
				fired = append(fired, sig.name)
				for t, w := range sig.scores {
					scores[t] += w
					if w > 0 {
						domPos[t] += w
					}
				}
			}
		}
		for t, total := range domPos {
			if total > domCap {
				scores[t] -= total - domCap
			}
		}
	}

	winner, winnerScore := topScore(scores)
	if winner == "" {
		return Result{PageType: Unknown, Signals: fired}
	}
	// Blocked pages win outright once over threshold. An interstitial
	// served on a product-shaped URL must not classify as the product.
	if winner != Blocked && scores[Blocked] >= threshold(Blocked) {
		winner, winnerScore = Blocked, scores[Blocked]
	}
	th := threshold(winner)
	confidence := float64(winnerScore) / float64(th*2)
	if confidence > 1.0 {
		confidence = 1.0
	}
	runnerUp, _ := runnerUpScore(scores, winner)
	if winnerScore < th {
		return Result{PageType: Unknown, Confidence: confidence, Score: winnerScore, Signals: fired, RunnerUp: runnerUp}
	}
	return Result{PageType: winner, Confidence: confidence, Score: winnerScore, Signals: fired, RunnerUp: runnerUp}
}

func threshold(pageType string) int {
	if th, ok := thresholds[pageType]; ok {
		return th
	}
	return defaultThreshold
}

func topScore(scores map[string]int) (string, int) {
	best, bestScore := "", 0
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break
	for _, k := range keys {
		if best == "" || scores[k] > bestScore {
			best, bestScore = k, scores[k]
		}
	}
	return best, bestScore
}

func runnerUpScore(scores map[string]int, winner string) (string, int) {
	best, bestScore := "", 0
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == winner {
			continue
		}
		if best == "" || scores[k] > bestScore {
			best, bestScore = k, scores[k]
		}
	}
	return best, bestScore
}

// jsonLDPageType sniffs the first JSON-LD @type that maps to a page type.
func jsonLDPageType(rawHTML string) string {
	for _, m := range jsonLDRe.FindAllStringSubmatch(rawHTML, 5) {
		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &data); err != nil {
			continue
		}
		if pt := resolveJSONLDType(data); pt != "" {
			return pt
		}
	}
	return ""
}

func resolveJSONLDType(data any) string {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if pt := resolveJSONLDType(item); pt != "" {
				return pt
			}
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			if pt := resolveJSONLDType(graph); pt != "" {
				return pt
			}
		}
		switch t := v["@type"].(type) {
		case string:
			return jsonLDPageTypes[t]
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					if pt, ok := jsonLDPageTypes[s]; ok {
						return pt
					}
				}
			}
		}
	}
	return ""
}

// domainSchemas maps known domains to their structured-data schema.
var domainSchemas = []struct {
	domain string
	schema string
}{
	{"coupang.com", SchemaProduct},
	{"musinsa.com", SchemaProduct},
	{"29cm.co.kr", SchemaProduct},
	{"kurly.com", SchemaProduct},
	{"wconcept.co.kr", SchemaProduct},
	{"ssfshop.com", SchemaProduct},
	{"zara.com", SchemaProduct},
	{"hm.com", SchemaProduct},
	{"uniqlo.com", SchemaProduct},
	{"nike.com", SchemaProduct},
	{"news.naver.com", SchemaNewsArticle},
	{"bbc.com", SchemaNewsArticle},
	{"wikipedia.org", SchemaWikiArticle},
	{"github.com", SchemaSaaSPage},
	{"gov.kr", SchemaGovernmentPage},
}

// jsonLDSchemas maps JSON-LD @type values straight to schema names.
var jsonLDSchemas = map[string]string{
	"Product":       SchemaProduct,
	"NewsArticle":   SchemaNewsArticle,
	"FAQPage":       SchemaFAQPage,
	"Event":         SchemaEvent,
	"LocalBusiness": SchemaLocalBusiness,
	"VideoObject":   SchemaVideoObject,
}

// Schema resolves the schema for a page: JSON-LD wins, then the domain
// map, then Generic.
func Schema(url string, rawHTML string) string {
	if rawHTML != "" {
		for _, m := range jsonLDRe.FindAllStringSubmatch(rawHTML, 5) {
			var data any
			if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &data); err != nil {
				continue
			}
			if s := resolveJSONLDSchema(data); s != "" {
				return s
			}
		}
	}
	for _, d := range domainSchemas {
		if strings.Contains(url, d.domain) {
			return d.schema
		}
	}
	return SchemaGeneric
}

func resolveJSONLDSchema(data any) string {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if s := resolveJSONLDSchema(item); s != "" {
				return s
			}
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			if s := resolveJSONLDSchema(graph); s != "" {
				return s
			}
		}
		switch t := v["@type"].(type) {
		case string:
			return jsonLDSchemas[t]
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					if schema, ok := jsonLDSchemas[s]; ok {
						return schema
					}
				}
			}
		}
	}
	return ""
}

// AntiBotKeywords are shared with the page-map assembler's blocked-page
// detection.
var AntiBotKeywords = []string{
	"captcha",
	"challenge-platform",
	"cf-browser-verification",
	"just a moment",
	"access denied",
	"akamai",
	"errors.edgesuite.net",
}
