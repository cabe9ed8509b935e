// Package i18n holds the multilingual keyword tables used for detection
// (prices, ratings, pagination controls) and the per-locale labels used
// when rendering agent-facing output. Detection tables merge all supported
// languages so matching is locale-independent; rendering is keyed by the
// locale detected from the URL.
//
// Supported locales: ko (default), en, ja, fr, de.
package i18n

import (
	"net/url"
	"strings"
)

// DefaultLocale is used when no signal in the URL indicates otherwise.
const DefaultLocale = "ko"

// Detection term tables. Pure literals, matched case-sensitively except
// where a caller lowercases first.
var (
	PriceTerms = []string{
		"₩", "$", "¥", "€", "£", "CHF", "SEK", "AUD", "CAD", "NZD", "DKK", "NOK",
		"USD", "EUR", "GBP", "JPY", "KRW", "kr", "R$",
		"원", "円", "元",
	}

	RatingTerms = []string{
		"★", "평점", "별점",
		"stars", "rating", "rated",
		"評価", "レビュー",
		"étoile",
		"Bewertung", "Sterne",
	}

	ReviewCountTerms = []string{
		"개", "건", "리뷰",
		"review", "reviews",
		"レビュー", "件",
		"avis",
		"Bewertung", "Bewertungen", "Rezension",
	}

	ReporterTerms = []string{
		"기자", "기고", "편집", "취재",
		"reporter",
		"記者", "編集",
		"journaliste", "rédacteur",
		"Reporter", "Redakteur",
	}

	SearchResultTerms = []string{
		"검색결과", "개의 상품", "items", "건", "총 ",
		"search results", "results",
		"検索結果", "件の商品",
		"résultats", "produits",
		"Suchergebnisse", "Ergebnisse", "Produkte",
	}

	ListingTerms = []string{
		"베스트", "랭킹", "인기", "신상품", "new arrival", "new in",
		"best", "ranking",
		"ベスト", "ランキング", "人気", "新着",
		"meilleures ventes", "nouveautés",
		"Bestseller", "Beliebt", "Neuheiten",
	}

	FilterTerms = []string{
		"필터", "정렬", "카테고리",
		"filter", "sort", "category",
		"フィルター", "並び替え", "カテゴリー",
		"filtre", "tri", "catégorie",
		"Filter", "Sortieren", "Kategorie",
	}

	NextButtonTerms = []string{
		"다음", "다음 페이지",
		"Next", "next", "Next Page", "next page",
		"次へ", "次のページ",
		"Suivant", "Page suivante",
		"Weiter", "Nächste Seite",
	}

	PrevButtonTerms = []string{
		"이전", "이전 페이지",
		"Previous", "previous", "Prev", "prev",
		"前へ", "前のページ",
		"Précédent",
		"Zurück",
	}

	LoadMoreTerms = []string{
		"더보기", "더 보기",
		"Load more", "Show more", "View more",
		"もっと見る", "さらに表示",
		"Voir plus", "Charger plus",
		"Mehr laden", "Mehr anzeigen",
	}

	OptionTerms = []string{
		"사이즈", "색상", "옵션",
		"size", "color", "colour", "option",
		"サイズ", "カラー", "オプション",
		"taille", "couleur",
		"Größe", "Farbe",
	}

	PriceLabelTerms = []string{
		"정가", "할인가", "판매가",
		"regular price", "sale price", "original price", "list price",
		"定価", "セール価格", "通常価格",
		"prix", "solde",
		"Originalpreis", "Sonderpreis",
	}

	ContactTerms = []string{
		"전화", "연락처", "주소", "팩스", "이메일",
		"tel", "address", "fax", "email",
		"電話", "住所",
		"téléphone", "adresse", "courriel",
		"Telefon", "Kontakt",
	}

	BrandTerms = []string{
		"브랜드", "제조사",
		"brand", "manufacturer",
		"ブランド", "メーカー",
		"marque", "fabricant",
		"Marke", "Hersteller",
	}

	DepartmentTerms = []string{
		"기관", "부처", "청", "위원회", "처", "원",
		"department", "ministry",
		"省", "庁", "委員会",
		"ministère", "département",
		"Ministerium", "Behörde", "Amt",
	}

	FeatureTerms = []string{
		"기능", "특징",
		"feature",
		"機能", "特徴",
		"fonctionnalité", "caractéristique",
		"Funktion", "Merkmal",
	}

	PricingTerms = []string{
		"요금", "가격",
		"price", "pricing",
		"₩", "$", "€",
		"価格", "料金",
		"prix", "tarif",
		"Preis", "Preise",
	}

	// HighValueShortTerms flags short text fragments that carry
	// availability, shipping, scarcity or discount information.
	HighValueShortTerms = []string{
		"품절", "재고", "배송", "무료배송", "할인", "적립", "당일",
		"sold out", "in stock", "out of stock", "free shipping", "ships",
		"discount", "% off", "only", "left",
		"在庫", "送料無料", "割引",
		"en stock", "épuisé", "livraison gratuite", "réduction",
		"auf Lager", "ausverkauft", "kostenloser Versand", "Rabatt",
	}
)

// ContainsAny reports whether s contains any of the terms.
func ContainsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// Locale holds the labels used when rendering agent output for one
// language.
type Locale struct {
	Code             string
	LabelTitle       string
	LabelRating      string
	LabelBrand       string
	LabelPagination  string
	LabelNext        string
	LabelPageSuffix  string
	Currency         string
	OverflowTemplate string // fmt template taking the overflow count
	ReviewTemplate   string // fmt template taking the review count
}

var locales = map[string]Locale{
	"ko": {Code: "ko", LabelTitle: "제목", LabelRating: "평점", LabelBrand: "브랜드", LabelPagination: "페이지네이션", LabelNext: "다음 있음", LabelPageSuffix: "페이지", Currency: "KRW", OverflowTemplate: "외 %d건", ReviewTemplate: "(%d개 리뷰)"},
	"en": {Code: "en", LabelTitle: "Title", LabelRating: "Rating", LabelBrand: "Brand", LabelPagination: "Pagination", LabelNext: "Next available", LabelPageSuffix: "pages", Currency: "USD", OverflowTemplate: "+%d more", ReviewTemplate: "(%d reviews)"},
	"ja": {Code: "ja", LabelTitle: "タイトル", LabelRating: "評価", LabelBrand: "ブランド", LabelPagination: "ページネーション", LabelNext: "次あり", LabelPageSuffix: "ページ", Currency: "JPY", OverflowTemplate: "他%d件", ReviewTemplate: "(%d件のレビュー)"},
	"fr": {Code: "fr", LabelTitle: "Titre", LabelRating: "Note", LabelBrand: "Marque", LabelPagination: "Pagination", LabelNext: "Suivant disponible", LabelPageSuffix: "pages", Currency: "EUR", OverflowTemplate: "+%d de plus", ReviewTemplate: "(%d avis)"},
	"de": {Code: "de", LabelTitle: "Titel", LabelRating: "Bewertung", LabelBrand: "Marke", LabelPagination: "Seitennavigation", LabelNext: "Weiter verfügbar", LabelPageSuffix: "Seiten", Currency: "EUR", OverflowTemplate: "+%d weitere", ReviewTemplate: "(%d Bewertungen)"},
}

// Get returns the Locale for code, falling back to the default.
func Get(code string) Locale {
	if l, ok := locales[code]; ok {
		return l
	}
	return locales[DefaultLocale]
}

var pathLocaleSegments = map[string]bool{"ja": true, "fr": true, "de": true, "en": true, "ko": true}

// domainLocales maps exact domains and TLD suffixes (leading dot) to
// locales. Exact domains win over TLDs.
var domainLocales = []struct {
	pattern string
	locale  string
}{
	{"coupang.com", "ko"},
	{"musinsa.com", "ko"},
	{"29cm.co.kr", "ko"},
	{"ssfshop.com", "ko"},
	{".co.kr", "ko"},
	{".kr", "ko"},
	{".co.jp", "ja"},
	{".jp", "ja"},
	{".fr", "fr"},
	{".de", "de"},
	{".co.uk", "en"},
	{".com", "en"},
}

// DetectLocale infers a locale from a URL. Priority: path segment, then
// subdomain, then exact domain, then TLD.
func DetectLocale(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return DefaultLocale
	}
	host := strings.ToLower(u.Hostname())
	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i, seg := range segments {
		if i >= 2 {
			break
		}
		if pathLocaleSegments[strings.ToLower(seg)] {
			return strings.ToLower(seg)
		}
	}
	if sub, _, ok := strings.Cut(host, "."); ok && pathLocaleSegments[sub] {
		return sub
	}
	for _, d := range domainLocales {
		if !strings.HasPrefix(d.pattern, ".") && strings.Contains(host, d.pattern) {
			return d.locale
		}
	}
	for _, d := range domainLocales {
		if strings.HasPrefix(d.pattern, ".") && strings.HasSuffix(host, d.pattern) {
			return d.locale
		}
	}
	return DefaultLocale
}
