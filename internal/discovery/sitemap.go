package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

// maxSitemapDepth bounds sitemap-index recursion.
const maxSitemapDepth = 3

// FromSitemap fetches sitemapURL, follows any sitemap index, and returns the
// deduplicated product URLs it lists. Sub-sitemap failures are logged and skipped;
// a non-200 on the top-level document is an error.
func (d *Discoverer) FromSitemap(ctx context.Context, sitemapURL, menuBase string) ([]string, error) {
	locs := newURLSet()
	visited := make(map[string]struct{})
	if err := d.walkSitemap(ctx, sitemapURL, 0, visited, locs); err != nil {
		return nil, err
	}

	products := newURLSet()
	for _, loc := range locs.items {
		if IsProductURL(loc, menuBase) {
			products.add(loc)
		}
	}
	d.logger.Debug("sitemap parsed",
		zap.String("sitemap", sitemapURL),
		zap.Int("locs", locs.len()),
		zap.Int("products", products.len()),
	)
	return products.items, nil
}

func (d *Discoverer) walkSitemap(
	ctx context.Context,
	sitemapURL string,
	depth int,
	visited map[string]struct{},
	out *urlSet,
) error {
	if _, ok := visited[sitemapURL]; ok {
		return nil
	}
	visited[sitemapURL] = struct{}{}

	resp, err := d.fetcher.Fetch(ctx, catalog.FetchRequest{URL: sitemapURL, Timeout: d.cfg.Timeout})
	if err != nil {
		return fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sitemap returned status code %d", resp.StatusCode)
	}

	doc, err := xmlquery.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}

	if xmlquery.FindOne(doc, "//sitemapindex") != nil {
		for _, child := range locValues(doc, "//sitemap/loc") {
			if depth+1 > maxSitemapDepth {
				d.logger.Warn("sitemap index too deep; skipping", zap.String("sitemap", child))
				continue
			}
			if err := d.walkSitemap(ctx, child, depth+1, visited, out); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Warn("sub-sitemap failed", zap.String("sitemap", child), zap.Error(err))
			}
		}
		return nil
	}

	expr := "//url/loc"
	if xmlquery.FindOne(doc, "//urlset") == nil {
		expr = "//loc"
	}
	for _, loc := range locValues(doc, expr) {
		out.add(loc)
	}
	return nil
}

// locValues returns the normalized absolute URLs selected by expr.
func locValues(doc *xmlquery.Node, expr string) []string {
	var out []string
	for _, node := range xmlquery.Find(doc, expr) {
		if u, ok := Normalize(strings.TrimSpace(node.InnerText()), ""); ok {
			out = append(out, u)
		}
	}
	return out
}
