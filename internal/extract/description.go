package extract

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// minDescriptionLength filters out labels and boilerplate snippets.
const minDescriptionLength = 50

var descriptionSelectors = []string{
	`div[class*="description"]`,
	`p[class*="description"]`,
	`div[class*="product-description"]`,
	`div[class*="product-details"]`,
}

var rawDescription = regexp.MustCompile(`(?i)"description"\s*:\s*"([^"]{50,})"`)

// DescriptionFallback scans common description containers.
type DescriptionFallback struct{}

// Name implements Strategy.
func (DescriptionFallback) Name() string { return "description" }

// Extract implements Strategy.
func (DescriptionFallback) Extract(page *Page) Fields {
	for _, selector := range descriptionSelectors {
		var found string
		page.Doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := cleanText(s.Text())
			if len(text) > minDescriptionLength {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return Fields{Description: found}
		}
	}
	if m := rawDescription.FindSubmatch(page.Raw); m != nil {
		return Fields{Description: string(m[1])}
	}
	return Fields{}
}
