package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxJSONLDDepth = 6

// JSONLD reads schema.org Product blocks.
type JSONLD struct{}

// Name implements Strategy.
func (JSONLD) Name() string { return "jsonld" }

// Extract implements Strategy.
func (JSONLD) Extract(page *Page) Fields {
	var products []map[string]any
	page.Doc.Find(`script[type]`).Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		if !strings.EqualFold(strings.TrimSpace(typ), "application/ld+json") {
			return
		}
		v, ok := decodeJSON(s.Text())
		if !ok {
			return
		}
		products = collectProducts(v, 0, products)
	})

	var f Fields
	for _, product := range products {
		fillFromProduct(&f, product)
	}
	return f
}

func collectProducts(v any, depth int, out []map[string]any) []map[string]any {
	if depth > maxJSONLDDepth {
		return out
	}
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			out = collectProducts(item, depth+1, out)
		}
	case map[string]any:
		if isProductType(node["@type"]) {
			out = append(out, node)
		}
		if graph, ok := node["@graph"]; ok {
			out = collectProducts(graph, depth+1, out)
		}
	}
	return out
}

func isProductType(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.EqualFold(t, "Product") || strings.EqualFold(t, "ProductGroup")
	case []any:
		for _, item := range t {
			if isProductType(item) {
				return true
			}
		}
	}
	return false
}

func fillFromProduct(f *Fields, p map[string]any) {
	fill := func(target *string, value string) {
		if *target == "" {
			*target = value
		}
	}
	fill(&f.Name, scalarString(p["name"]))
	fill(&f.Brand, nameOf(p["brand"]))
	fill(&f.Category, joinedString(p["category"]))
	fill(&f.Description, scalarString(p["description"]))
	fill(&f.ImageURL, imageOf(p["image"]))
	if len(f.Tags) == 0 {
		f.Tags = stringList(p["keywords"])
	}

	if offer := firstOffer(p["offers"]); offer != nil {
		price := scalarString(offer["price"])
		if price == "" {
			price = scalarString(offer["lowPrice"])
		}
		fill(&f.Price, price)
		if f.InStock == nil {
			if availability := scalarString(offer["availability"]); availability != "" {
				f.InStock = boolPtr(!strings.Contains(strings.ToLower(availability), "out"))
			}
		}
	}

	props, _ := p["additionalProperty"].([]any)
	for _, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(scalarString(prop["name"])))
		value := prop["value"]
		switch {
		case name == "thc" || name == "thc%":
			fill(&f.THC, scalarString(value))
		case name == "cbd" || name == "cbd%":
			fill(&f.CBD, scalarString(value))
		case strings.Contains(name, "effect"):
			f.Effects = append(f.Effects, stringList(value)...)
		case strings.Contains(name, "flavor") || strings.Contains(name, "taste"):
			f.Flavors = append(f.Flavors, stringList(value)...)
		}
	}
}

// firstOffer returns the offer object, or the first entry of an offer list.
func firstOffer(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		if nested, ok := t["offers"]; ok && t["price"] == nil && t["lowPrice"] == nil {
			if inner := firstOffer(nested); inner != nil {
				return inner
			}
		}
		return t
	case []any:
		for _, item := range t {
			if offer := firstOffer(item); offer != nil {
				return offer
			}
		}
	}
	return nil
}
