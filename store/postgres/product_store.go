// Package postgres provides the Postgres-backed product store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-beauty/config"
	"github.com/aluiziolira/go-scrape-beauty/models"
	"github.com/aluiziolira/go-scrape-beauty/store"
)

var _ store.ProductStore = (*ProductStore)(nil)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const productColumns = `url, name, brand, price, category, rating, ingredient_raw, usage_tip, description_raw, volume, made_from, skin_type, images`

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ProductStore keeps one row per product url. Writes are idempotent: a
// second upsert of the same url replaces every tracked field.
type ProductStore struct {
	pool   pool
	table  string
	logger *zap.Logger

	schemaMu    sync.Mutex
	schemaReady bool
}

// NewProductStore opens a connection pool for cfg.
func NewProductStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*ProductStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if !validTableName.MatchString(defaultTable(cfg.Table)) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewProductStoreWithPool(p, cfg.Table, logger)
}

// NewProductStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProductStoreWithPool(p pool, table string, logger *zap.Logger) (*ProductStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table = defaultTable(table)
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductStore{pool: p, table: table, logger: logger.Named("store")}, nil
}

func defaultTable(table string) string {
	if table == "" {
		return "products"
	}
	return table
}

// EnsureSchema creates the table and its unique url index if missing. It
// runs once per store; a failed attempt is retried by the next call.
func (s *ProductStore) EnsureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}

	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	brand TEXT NOT NULL DEFAULT '',
	price DOUBLE PRECISION NOT NULL DEFAULT 0,
	category TEXT NOT NULL DEFAULT '',
	rating DOUBLE PRECISION NOT NULL DEFAULT 0,
	ingredient_raw TEXT NOT NULL DEFAULT '',
	usage_tip TEXT NOT NULL DEFAULT '',
	description_raw TEXT NOT NULL DEFAULT '',
	volume TEXT NOT NULL DEFAULT '',
	made_from TEXT NOT NULL DEFAULT '',
	skin_type TEXT NOT NULL DEFAULT '',
	images JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	index := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_url_key ON %s (url)`, s.table, s.table)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create url index on %s: %w", s.table, err)
	}

	s.schemaReady = true
	s.logger.Info("product schema ready", zap.String("table", s.table))
	return nil
}

// Upsert inserts record or replaces the row stored under the same url.
func (s *ProductStore) Upsert(ctx context.Context, record *models.ProductRecord) error {
	if record == nil || record.URL == "" {
		return store.ErrMissingURL
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	images := record.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (%s, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
ON CONFLICT (url) DO UPDATE SET
	name = EXCLUDED.name,
	brand = EXCLUDED.brand,
	price = EXCLUDED.price,
	category = EXCLUDED.category,
	rating = EXCLUDED.rating,
	ingredient_raw = EXCLUDED.ingredient_raw,
	usage_tip = EXCLUDED.usage_tip,
	description_raw = EXCLUDED.description_raw,
	volume = EXCLUDED.volume,
	made_from = EXCLUDED.made_from,
	skin_type = EXCLUDED.skin_type,
	images = EXCLUDED.images,
	updated_at = now()`, s.table, productColumns)

	args := []any{
		record.URL,
		record.Name,
		record.Brand,
		record.Price,
		record.Category,
		record.Rating,
		record.IngredientRaw,
		record.UsageTip,
		record.DescriptionRaw,
		record.Volume,
		record.MadeFrom,
		record.SkinType,
		imagesJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert product %s: %w", record.URL, err)
	}
	return nil
}

// Count returns the number of stored products.
func (s *ProductStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// ForEach calls fn for every stored product in id order. It stops at the
// first error returned by fn.
func (s *ProductStore) ForEach(ctx context.Context, fn func(models.StoredProduct) error) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, %s FROM %s ORDER BY id`, productColumns, s.table))
	if err != nil {
		return fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			p          models.StoredProduct
			imagesJSON []byte
		)
		if err := rows.Scan(
			&id,
			&p.URL,
			&p.Name,
			&p.Brand,
			&p.Price,
			&p.Category,
			&p.Rating,
			&p.IngredientRaw,
			&p.UsageTip,
			&p.DescriptionRaw,
			&p.Volume,
			&p.MadeFrom,
			&p.SkinType,
			&imagesJSON,
		); err != nil {
			return fmt.Errorf("scan product: %w", err)
		}
		p.ID = strconv.FormatInt(id, 10)
		if len(imagesJSON) > 0 {
			if err := json.Unmarshal(imagesJSON, &p.Images); err != nil {
				s.logger.Warn("decode product images", zap.String("id", p.ID), zap.Error(err))
			}
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate products: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
