package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements catalog.Store and catalog.RunLog on Postgres.
type Store struct {
	pool pool
	ids  catalog.IDGenerator
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config, ids catalog.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, ids: ids}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, ids catalog.IDGenerator) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &Store{pool: p, ids: ids}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const productColumns = `id, source_url, name, description, price, category, brand, image_url,
	thc, cbd, effects, flavors, tags, in_stock, remote_id, source, featured_image, last_synced, last_seen`

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return persistenceError("ping", err)
	}
	return nil
}

// FindByURL implements catalog.Store.
func (s *Store) FindByURL(ctx context.Context, sourceURL string) (catalog.ProductRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE source_url = $1`, sourceURL)
	record, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ProductRecord{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.ProductRecord{}, persistenceError("find product", err)
	}
	return record, nil
}

// Upsert implements catalog.Store. On conflict the row keeps its id and featured image.
func (s *Store) Upsert(ctx context.Context, record catalog.ProductRecord) (string, error) {
	if record.SourceURL == "" || record.Name == "" {
		return "", fmt.Errorf("%w: name and source url are required", catalog.ErrPersistenceFailed)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", persistenceError("generate id", err)
	}
	const query = `
INSERT INTO products (
	id, source_url, name, description, price, category, brand, image_url,
	thc, cbd, effects, flavors, tags, in_stock, remote_id, source, last_synced, last_seen
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
ON CONFLICT (source_url) DO UPDATE SET
	name = EXCLUDED.name,
	description = EXCLUDED.description,
	price = EXCLUDED.price,
	category = EXCLUDED.category,
	brand = EXCLUDED.brand,
	image_url = EXCLUDED.image_url,
	thc = EXCLUDED.thc,
	cbd = EXCLUDED.cbd,
	effects = EXCLUDED.effects,
	flavors = EXCLUDED.flavors,
	tags = EXCLUDED.tags,
	in_stock = EXCLUDED.in_stock,
	remote_id = EXCLUDED.remote_id,
	source = EXCLUDED.source,
	last_synced = EXCLUDED.last_synced,
	last_seen = EXCLUDED.last_seen
RETURNING id`

	var stored string
	err = s.pool.QueryRow(ctx, query,
		id,
		record.SourceURL,
		record.Name,
		record.Description,
		record.Price,
		record.Category,
		record.Brand,
		record.ImageURL,
		record.THC,
		record.CBD,
		nonNil(record.Effects),
		nonNil(record.Flavors),
		nonNil(record.Tags),
		record.InStock,
		record.RemoteID,
		record.Source,
		record.LastSynced,
		record.LastSeen,
	).Scan(&stored)
	if err != nil {
		return "", persistenceError("upsert product", err)
	}
	return stored, nil
}

// SetTags implements catalog.Store, replacing the terms of one taxonomy.
func (s *Store) SetTags(ctx context.Context, id string, taxonomy catalog.Taxonomy, terms []string) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistenceError("begin set tags", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM product_terms WHERE product_id = $1 AND taxonomy = $2`, id, string(taxonomy)); err != nil {
		return persistenceError("clear terms", err)
	}
	if len(terms) > 0 {
		_, err = tx.Exec(ctx, `
INSERT INTO product_terms (product_id, taxonomy, term)
SELECT $1, $2, unnest($3::text[])
ON CONFLICT DO NOTHING`, id, string(taxonomy), terms)
		if err != nil {
			return persistenceError("insert terms", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return persistenceError("commit set tags", err)
	}
	return nil
}

// SetImage implements catalog.Store.
func (s *Store) SetImage(ctx context.Context, id string, imageRef string) (bool, error) {
	if imageRef == "" {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET featured_image = $2 WHERE id = $1 AND featured_image = ''`, id, imageRef)
	if err != nil {
		return false, persistenceError("set image", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStale implements catalog.Store.
func (s *Store) ListStale(ctx context.Context, olderThan time.Time, exclude []string) ([]catalog.ProductRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE in_stock AND last_seen < $1 AND NOT (source_url = ANY($2))
ORDER BY source_url`, olderThan, nonNil(exclude))
	if err != nil {
		return nil, persistenceError("list stale", err)
	}
	defer rows.Close()

	var out []catalog.ProductRecord
	for rows.Next() {
		record, err := scanProduct(rows)
		if err != nil {
			return nil, persistenceError("scan stale", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate stale", err)
	}
	return out, nil
}

// MarkOutOfStock implements catalog.Store.
func (s *Store) MarkOutOfStock(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE products SET in_stock = FALSE WHERE id = $1`, id)
	if err != nil {
		return persistenceError("mark out of stock", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// RecordRun implements catalog.RunLog.
func (s *Store) RecordRun(ctx context.Context, result catalog.SyncRunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO sync_runs (run_id, status, started_at, finished_at, result)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (run_id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = EXCLUDED.finished_at,
	result = EXCLUDED.result`,
		result.RunID, string(result.Status), result.StartedAt, result.FinishedAt, payload)
	if err != nil {
		return persistenceError("record run", err)
	}
	return nil
}

// LastRun implements catalog.RunLog.
func (s *Store) LastRun(ctx context.Context) (catalog.SyncRunResult, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM sync_runs ORDER BY finished_at DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.SyncRunResult{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.SyncRunResult{}, persistenceError("last run", err)
	}
	var result catalog.SyncRunResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return catalog.SyncRunResult{}, fmt.Errorf("decode run result: %w", err)
	}
	return result, nil
}

func scanProduct(row pgx.Row) (catalog.ProductRecord, error) {
	var r catalog.ProductRecord
	err := row.Scan(
		&r.ID,
		&r.SourceURL,
		&r.Name,
		&r.Description,
		&r.Price,
		&r.Category,
		&r.Brand,
		&r.ImageURL,
		&r.THC,
		&r.CBD,
		&r.Effects,
		&r.Flavors,
		&r.Tags,
		&r.InStock,
		&r.RemoteID,
		&r.Source,
		&r.FeaturedImage,
		&r.LastSynced,
		&r.LastSeen,
	)
	return r, err
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", catalog.ErrPersistenceFailed, op, err)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
