// Package discovery enumerates product page URLs on the remote menu site,
// reading the sitemap first and falling back to a bounded breadth-first crawl.
package discovery
