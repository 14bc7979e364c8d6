// Package postgres provides the Postgres-backed catalog store and run log.
package postgres

import (
	"context"
	"fmt"
)

// schemaStatements create the catalog tables when absent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
	id             TEXT PRIMARY KEY,
	source_url     TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	price          TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	brand          TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	thc            TEXT NOT NULL DEFAULT '',
	cbd            TEXT NOT NULL DEFAULT '',
	effects        TEXT[] NOT NULL DEFAULT '{}',
	flavors        TEXT[] NOT NULL DEFAULT '{}',
	tags           TEXT[] NOT NULL DEFAULT '{}',
	in_stock       BOOLEAN NOT NULL DEFAULT TRUE,
	remote_id      TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	featured_image TEXT NOT NULL DEFAULT '',
	last_synced    TIMESTAMPTZ NOT NULL,
	last_seen      TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS products_stale_idx ON products (in_stock, last_seen)`,
	`CREATE TABLE IF NOT EXISTS product_terms (
	product_id TEXT NOT NULL REFERENCES products (id) ON DELETE CASCADE,
	taxonomy   TEXT NOT NULL,
	term       TEXT NOT NULL,
	PRIMARY KEY (product_id, taxonomy, term)
)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
	run_id      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	result      JSONB NOT NULL
)`,
}

// EnsureSchema creates the tables and indexes the store needs.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
