package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var categoryPathSegment = regexp.MustCompile(`(?i)/(?:menu|category|products?)/([^/]+)`)

// genericCrumbs are breadcrumb labels that never name a category.
var genericCrumbs = map[string]struct{}{
	"home": {}, "menu": {}, "products": {}, "shop": {}, "store": {},
}

// categoryVocabulary lists URL segments recognized as categories.
var categoryVocabulary = map[string]struct{}{
	"flower": {}, "vapes": {}, "edibles": {}, "prerolls": {}, "pre-rolls": {},
	"concentrates": {}, "drinks": {}, "syrup": {}, "moon-rocks": {}, "tinctures": {},
	"topicals": {}, "accessories": {}, "bundles": {}, "chocolates": {},
}

// CategoryFallback derives a category from page structure: breadcrumbs, the
// URL path, a category meta tag, then the active navigation item.
type CategoryFallback struct{}

// Name implements Strategy.
func (CategoryFallback) Name() string { return "category" }

// Extract implements Strategy.
func (CategoryFallback) Extract(page *Page) Fields {
	for _, find := range []func(*Page) string{
		breadcrumbCategory,
		urlCategory,
		metaCategory,
		activeNavCategory,
	} {
		if c := find(page); c != "" {
			return Fields{Category: c}
		}
	}
	return Fields{}
}

func breadcrumbCategory(page *Page) string {
	var found string
	page.Doc.Find(`[class*="breadcrumb"] a, [class*="Breadcrumb"] a`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := cleanText(s.Text())
		if text == "" {
			return true
		}
		if _, generic := genericCrumbs[strings.ToLower(text)]; generic {
			return true
		}
		found = text
		return false
	})
	return found
}

func urlCategory(page *Page) string {
	u, err := url.Parse(page.URL)
	if err != nil {
		return ""
	}
	m := categoryPathSegment.FindStringSubmatch(u.Path)
	if m == nil {
		return ""
	}
	segment, err := url.PathUnescape(m[1])
	if err != nil {
		return ""
	}
	segment = strings.ToLower(segment)
	if _, ok := categoryVocabulary[segment]; !ok {
		return ""
	}
	return titleCase(strings.ReplaceAll(segment, "-", " "))
}

func metaCategory(page *Page) string {
	return strings.TrimSpace(page.Doc.Find(`meta[name="category"]`).First().AttrOr("content", ""))
}

func activeNavCategory(page *Page) string {
	var found string
	page.Doc.Find(`[class*="active"], [class*="current"], [class*="selected"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		text := cleanText(s.Text())
		if len(text) > 2 && len(text) < 30 {
			found = text
			return false
		}
		return true
	})
	return found
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
