// Package reconcile runs the catalog sync pipeline: resolve the sitemap,
// discover product URLs, fetch and extract each product, upsert it into the
// store, and retire records that have dropped out of discovery.
package reconcile
