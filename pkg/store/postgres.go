// Package store persists stores, products and price observations in
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"price-scout/pkg/models"
)

// NamePrefixLength is how much of a product name the fuzzy lookup compares.
const NamePrefixLength = 50

const schema = `
CREATE TABLE IF NOT EXISTS stores (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	domain TEXT NOT NULL UNIQUE,
	country TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	brand TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS products_external_id_idx ON products (external_id);
CREATE TABLE IF NOT EXISTS prices (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products (id),
	store_id TEXT NOT NULL REFERENCES stores (id),
	price NUMERIC(12, 2) NOT NULL,
	currency TEXT NOT NULL,
	is_available BOOLEAN NOT NULL,
	url TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS prices_latest_idx ON prices (product_id, store_id, observed_at DESC);
`

const productColumns = `id, name, brand, category, description, image_url, external_id, created_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: EnsureSchema: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindStoreByDomain(ctx context.Context, domain string) (*models.Store, error) {
	query := `SELECT id, name, domain, country, active FROM stores WHERE domain = $1`

	var st models.Store
	err := s.db.QueryRowContext(ctx, query, domain).Scan(&st.ID, &st.Name, &st.Domain, &st.Country, &st.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: FindStoreByDomain %s: %w", domain, err)
	}
	return &st, nil
}

// CreateStore inserts a store, or returns the existing row for domain.
func (s *PostgresStore) CreateStore(ctx context.Context, name, domain, country string) (*models.Store, error) {
	query := `
		INSERT INTO stores (id, name, domain, country, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (domain) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, domain, country, active
	`
	var st models.Store
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), name, domain, country).
		Scan(&st.ID, &st.Name, &st.Domain, &st.Country, &st.Active)
	if err != nil {
		return nil, fmt.Errorf("store: CreateStore %s: %w", domain, err)
	}
	return &st, nil
}

func (s *PostgresStore) FindProductByExternalID(ctx context.Context, externalID string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE external_id = $1 ORDER BY created_at LIMIT 1`
	return s.scanProduct(s.db.QueryRowContext(ctx, query, externalID), "FindProductByExternalID")
}

// FindProductByNamePrefix returns the oldest product whose name contains the
// first NamePrefixLength characters of text, ignoring case.
func (s *PostgresStore) FindProductByNamePrefix(ctx context.Context, text string) (*models.Product, error) {
	prefix := []rune(strings.TrimSpace(text))
	if len(prefix) == 0 {
		return nil, models.ErrNotFound
	}
	if len(prefix) > NamePrefixLength {
		prefix = prefix[:NamePrefixLength]
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE name ILIKE $1 ORDER BY created_at LIMIT 1`
	return s.scanProduct(s.db.QueryRowContext(ctx, query, "%"+escapeLike(string(prefix))+"%"), "FindProductByNamePrefix")
}

func (s *PostgresStore) scanProduct(row *sql.Row, op string) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Brand, &p.Category, &p.Description, &p.ImageURL, &p.ExternalID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	query := `
		INSERT INTO products (id, name, brand, category, description, image_url, external_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	p.ID = uuid.NewString()
	err := s.db.QueryRowContext(ctx, query, p.ID, p.Name, p.Brand, p.Category, p.Description, p.ImageURL, p.ExternalID).
		Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: CreateProduct %q: %w", p.Name, err)
	}
	return &p, nil
}

// RecordPrice appends an observation and returns its id.
func (s *PostgresStore) RecordPrice(ctx context.Context, obs models.PriceObservation) (string, error) {
	query := `
		INSERT INTO prices (id, product_id, store_id, price, currency, is_available, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	id := uuid.NewString()
	price := decimal.NewFromFloat(obs.Price).Round(2)
	if _, err := s.db.ExecContext(ctx, query, id, obs.ProductID, obs.StoreID, price, obs.Currency, obs.IsAvailable, obs.URL); err != nil {
		return "", fmt.Errorf("store: RecordPrice for %s: %w", obs.ProductID, err)
	}
	return id, nil
}

// SearchProducts returns products whose name, brand or description contains
// query, each with the latest observation per store.
func (s *PostgresStore) SearchProducts(ctx context.Context, query string, limit int) ([]models.ProductWithPrices, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []models.ProductWithPrices{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	productsQuery := `
		SELECT ` + productColumns + `
		FROM products
		WHERE name ILIKE $1 OR brand ILIKE $1 OR description ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, productsQuery, "%"+escapeLike(q)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("store: SearchProducts: %w", err)
	}
	defer rows.Close()

	var results []models.ProductWithPrices
	index := make(map[string]int)
	var ids []string
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.Category, &p.Description, &p.ImageURL, &p.ExternalID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: SearchProducts scan: %w", err)
		}
		index[p.ID] = len(results)
		ids = append(ids, p.ID)
		results = append(results, models.ProductWithPrices{Product: p, Prices: []models.PriceObservation{}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: SearchProducts rows: %w", err)
	}
	if len(ids) == 0 {
		return []models.ProductWithPrices{}, nil
	}

	prices, err := s.latestPrices(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, obs := range prices {
		if i, ok := index[obs.ProductID]; ok {
			results[i].Prices = append(results[i].Prices, obs)
		}
	}
	return results, nil
}

// LatestPrices returns the newest observation of productID at every store
// that has priced it, ordered by store id.
func (s *PostgresStore) LatestPrices(ctx context.Context, productID string) ([]models.PriceObservation, error) {
	return s.latestPrices(ctx, []string{productID})
}

func (s *PostgresStore) latestPrices(ctx context.Context, productIDs []string) ([]models.PriceObservation, error) {
	query := `
		SELECT DISTINCT ON (pr.product_id, pr.store_id)
			pr.id, pr.product_id, pr.store_id, pr.price, pr.currency, pr.is_available, pr.url, pr.observed_at,
			st.name, st.domain
		FROM prices pr
		JOIN stores st ON st.id = pr.store_id
		WHERE pr.product_id = ANY($1)
		ORDER BY pr.product_id, pr.store_id, pr.observed_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("store: latestPrices: %w", err)
	}
	defer rows.Close()

	var out []models.PriceObservation
	for rows.Next() {
		var obs models.PriceObservation
		var price decimal.Decimal
		if err := rows.Scan(&obs.ID, &obs.ProductID, &obs.StoreID, &price, &obs.Currency, &obs.IsAvailable, &obs.URL, &obs.ObservedAt, &obs.StoreName, &obs.StoreDomain); err != nil {
			return nil, fmt.Errorf("store: latestPrices scan: %w", err)
		}
		obs.Price = price.InexactFloat64()
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: latestPrices rows: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
