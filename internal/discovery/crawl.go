package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

var categoryHrefMarkers = []string{"/menu/", "/category/", "/pickup/", "/delivery/"}

// Crawl walks the menu site breadth-first from menuBaseURL, visiting at most
// maxPages pages, and returns the product URLs found in discovery order.
func (d *Discoverer) Crawl(ctx context.Context, menuBaseURL string, maxPages int) ([]string, error) {
	base, ok := Normalize(menuBaseURL, "")
	if !ok {
		return nil, fmt.Errorf("%w: menu base url %q", catalog.ErrInvalidConfiguration, menuBaseURL)
	}
	if maxPages <= 0 {
		maxPages = d.cfg.MaxPages
	}

	visited := newURLSet()
	queued := newURLSet()
	queued.add(base)
	queue := []string{base}
	products := newURLSet()

	for len(queue) > 0 && visited.len() < maxPages {
		current := queue[0]
		queue = queue[1:]
		if !visited.add(current) {
			continue
		}
		if visited.len() > 1 {
			if err := d.clock.Sleep(ctx, d.cfg.PageDelay); err != nil {
				return products.items, fmt.Errorf("crawl page delay: %w", err)
			}
		}

		resp, err := d.fetcher.Fetch(ctx, catalog.FetchRequest{URL: current, Timeout: d.cfg.Timeout})
		if err != nil {
			if ctx.Err() != nil {
				return products.items, ctx.Err()
			}
			d.logger.Debug("crawl fetch failed", zap.String("url", current), zap.Error(err))
			continue
		}
		if !resp.OK() {
			d.logger.Debug("crawl page skipped", zap.String("url", current), zap.Int("status", resp.StatusCode))
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			d.logger.Debug("crawl parse failed", zap.String("url", current), zap.Error(err))
			continue
		}

		for _, u := range productLinks(doc, current) {
			products.add(u)
		}
		for _, link := range categoryLinks(doc, current, base) {
			if !visited.has(link) && queued.add(link) {
				queue = append(queue, link)
			}
		}
	}

	d.logger.Debug("crawl finished",
		zap.String("base", base),
		zap.Int("pages", visited.len()),
		zap.Int("products", products.len()),
	)
	return products.items, nil
}

// productLinks applies the four product-link patterns to a page. Links are
// kept only when they stay on the page's host.
func productLinks(doc *goquery.Document, pageURL string) []string {
	found := newURLSet()
	accept := func(raw string, requireShape bool) {
		u, ok := Normalize(raw, pageURL)
		if !ok || !sameHostString(u, pageURL) {
			return
		}
		if requireShape && !IsProductURL(u, "") {
			return
		}
		found.add(u)
	}

	// Product-shaped paths.
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		accept(href, true)
	})

	// data-*url attributes used by client-rendered cards.
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range s.Nodes[0].Attr {
			key := strings.ToLower(attr.Key)
			if strings.HasPrefix(key, "data-") && strings.HasSuffix(key, "url") {
				accept(attr.Val, true)
			}
		}
	})

	// JSON-LD Product urls.
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		for _, u := range jsonLDProductURLs(payload, 0) {
			accept(u, false)
		}
	})

	// Anchors tagged as product cards.
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if !taggedAsProduct(s) {
			return
		}
		href, _ := s.Attr("href")
		accept(href, false)
	})

	return found.items
}

// categoryLinks returns navigation links under base that are not product pages.
func categoryLinks(doc *goquery.Document, pageURL, base string) []string {
	found := newURLSet()
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !containsAny(strings.ToLower(href), categoryHrefMarkers) {
			return
		}
		u, ok := Normalize(href, pageURL)
		if !ok || !UnderBase(u, base) || IsProductURL(u, "") {
			return
		}
		found.add(u)
	})
	return found.items
}

func taggedAsProduct(s *goquery.Selection) bool {
	for _, attr := range s.Nodes[0].Attr {
		key := strings.ToLower(attr.Key)
		if strings.HasPrefix(key, "data-product") {
			return true
		}
		if key == "class" && strings.Contains(strings.ToLower(attr.Val), "product") {
			return true
		}
	}
	return false
}

// jsonLDProductURLs collects the url of every Product node in a JSON-LD payload.
func jsonLDProductURLs(v any, depth int) []string {
	if depth > 10 {
		return nil
	}
	var out []string
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			out = append(out, jsonLDProductURLs(item, depth+1)...)
		}
	case map[string]any:
		if hasType(node["@type"], "Product") {
			if u, ok := node["url"].(string); ok && u != "" {
				out = append(out, u)
			}
		}
		if graph, ok := node["@graph"]; ok {
			out = append(out, jsonLDProductURLs(graph, depth+1)...)
		}
		if list, ok := node["itemListElement"]; ok {
			out = append(out, jsonLDProductURLs(list, depth+1)...)
		}
		if item, ok := node["item"]; ok {
			out = append(out, jsonLDProductURLs(item, depth+1)...)
		}
	}
	return out
}

func hasType(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
