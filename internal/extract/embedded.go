package extract

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxEmbeddedDepth = 10
	maxEmbeddedNodes = 5000
)

// stateMarkers are global assignments SPA frameworks use to ship initial state.
var stateMarkers = []string{
	"__INITIAL_STATE__",
	"__PRELOADED_STATE__",
	"__NEXT_DATA__",
	"__APOLLO_STATE__",
	"__NUXT__",
}

// Embedded searches client-side state blobs for product-looking keys.
type Embedded struct{}

// Name implements Strategy.
func (Embedded) Name() string { return "embedded" }

// Extract implements Strategy.
func (Embedded) Extract(page *Page) Fields {
	var f Fields
	for _, blob := range stateBlobs(page.Doc) {
		s := &stateSearch{fields: &f}
		s.walk(blob, 0)
	}
	return f
}

// stateBlobs returns decoded state objects in document order.
func stateBlobs(doc *goquery.Document) []any {
	var blobs []any

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if id, _ := s.Attr("id"); id == "__NEXT_DATA__" {
			if v, ok := decodeJSON(text); ok {
				blobs = append(blobs, v)
			}
			return
		}
		for _, marker := range stateMarkers {
			idx := strings.Index(text, marker)
			if idx < 0 {
				continue
			}
			rest := text[idx+len(marker):]
			eq := strings.IndexByte(rest, '=')
			if eq < 0 {
				continue
			}
			open := strings.IndexByte(rest[eq:], '{')
			if open < 0 {
				continue
			}
			if v, ok := decodeJSON(rest[eq+open:]); ok {
				blobs = append(blobs, v)
			}
		}
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range s.Nodes[0].Attr {
			if !strings.HasPrefix(strings.ToLower(attr.Key), "data-") {
				continue
			}
			val := strings.TrimSpace(attr.Val)
			if !strings.HasPrefix(val, "{") {
				continue
			}
			if v, ok := decodeJSON(val); ok {
				blobs = append(blobs, v)
			}
		}
	})
	return blobs
}

// stateSearch is a bounded pre-order walk that fills the first match per field.
type stateSearch struct {
	fields *Fields
	nodes  int
}

func (s *stateSearch) walk(v any, depth int) {
	if depth > maxEmbeddedDepth || s.nodes >= maxEmbeddedNodes {
		return
	}
	switch node := v.(type) {
	case map[string]any:
		s.nodes++
		s.match(node)
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch node[k].(type) {
			case map[string]any, []any:
				s.walk(node[k], depth+1)
			}
		}
	case []any:
		s.nodes++
		for _, item := range node {
			s.walk(item, depth+1)
		}
	}
}

func (s *stateSearch) match(node map[string]any) {
	f := s.fields
	fill := func(target *string, value string) {
		if *target == "" {
			*target = value
		}
	}
	for _, key := range []string{"name", "title", "productName"} {
		fill(&f.Name, scalarString(node[key]))
	}
	fill(&f.Brand, nameOf(node["brand"]))
	fill(&f.Category, joinedString(node["category"]))
	fill(&f.Description, scalarString(node["description"]))
	fill(&f.Price, scalarString(node["price"]))
	fill(&f.THC, scalarString(node["thc"]))
	fill(&f.CBD, scalarString(node["cbd"]))
	for _, key := range []string{"image", "imageUrl"} {
		fill(&f.ImageURL, imageOf(node[key]))
	}
	if len(f.Effects) == 0 {
		f.Effects = stringList(node["effects"])
	}
	if len(f.Flavors) == 0 {
		f.Flavors = stringList(node["flavors"])
	}
	if len(f.Tags) == 0 {
		f.Tags = stringList(node["tags"])
	}
	if f.InStock == nil {
		for _, key := range []string{"inStock", "in_stock"} {
			if b, ok := boolOf(node[key]); ok {
				f.InStock = boolPtr(b)
				break
			}
		}
	}
}
