package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// OpenGraph reads og:* and product:* meta tags.
type OpenGraph struct{}

// Name implements Strategy.
func (OpenGraph) Name() string { return "opengraph" }

// Extract implements Strategy.
func (OpenGraph) Extract(page *Page) Fields {
	tags := ogTags(page.Doc)
	f := Fields{
		Name:        tags["og:title"],
		Description: tags["og:description"],
		ImageURL:    tags["og:image"],
		Price:       tags["og:price:amount"],
	}
	if f.Price == "" {
		f.Price = tags["product:price:amount"]
	}
	if f.ImageURL == "" {
		f.ImageURL = tags["og:image:url"]
	}
	if availability := tags["product:availability"]; availability != "" {
		a := strings.ToLower(availability)
		f.InStock = boolPtr(!strings.Contains(a, "out") && !strings.Contains(a, "oos"))
	}
	return f
}

// ogTags collects meta tags keyed by property, falling back to name. The first
// occurrence of a key wins.
func ogTags(doc *goquery.Document) map[string]string {
	byProperty := make(map[string]string)
	byName := make(map[string]string)
	doc.Find("meta[content]").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		if prop := strings.ToLower(strings.TrimSpace(s.AttrOr("property", ""))); isOGKey(prop) {
			if _, ok := byProperty[prop]; !ok {
				byProperty[prop] = content
			}
		}
		if name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", ""))); isOGKey(name) {
			if _, ok := byName[name]; !ok {
				byName[name] = content
			}
		}
	})
	for key, value := range byName {
		if _, ok := byProperty[key]; !ok {
			byProperty[key] = value
		}
	}
	return byProperty
}

func isOGKey(key string) bool {
	return strings.HasPrefix(key, "og:") || strings.HasPrefix(key, "product:")
}
