package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-scout/pkg/models"
)

func newMockDBAndStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Failed to create sqlmock")
	return db, mock, NewPostgresStore(db)
}

var productCols = []string{"id", "name", "brand", "category", "description", "image_url", "external_id", "created_at"}

func TestPostgresStore_FindStoreByDomain(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	query := regexp.QuoteMeta(`SELECT id, name, domain, country, active FROM stores WHERE domain = $1`)
	mock.ExpectQuery(query).
		WithArgs("amazon.de").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "domain", "country", "active"}).
			AddRow("s-1", "Amazon", "amazon.de", "DE", true))
	mock.ExpectQuery(query).
		WithArgs("unknown.de").
		WillReturnError(sql.ErrNoRows)

	st, err := store.FindStoreByDomain(context.Background(), "amazon.de")
	require.NoError(t, err)
	assert.Equal(t, &models.Store{ID: "s-1", Name: "Amazon", Domain: "amazon.de", Country: "DE", Active: true}, st)

	_, err = store.FindStoreByDomain(context.Background(), "unknown.de")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateStore(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (domain) DO UPDATE SET name = EXCLUDED.name`)).
		WithArgs(sqlmock.AnyArg(), "Thomann", "thomann.de", "DE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "domain", "country", "active"}).
			AddRow("s-2", "Thomann", "thomann.de", "DE", true))

	st, err := store.CreateStore(context.Background(), "Thomann", "thomann.de", "DE")
	require.NoError(t, err)
	assert.Equal(t, "s-2", st.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindProductByExternalID(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().Truncate(time.Millisecond)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE external_id = $1`)).
		WithArgs("B07ZLV4QJ6").
		WillReturnRows(sqlmock.NewRows(productCols).
			AddRow("p-1", "Fender Player Stratocaster", "Fender", "", "", "", "B07ZLV4QJ6", now))

	p, err := store.FindProductByExternalID(context.Background(), "B07ZLV4QJ6")
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)
	assert.Equal(t, "Fender", p.Brand)
	assert.WithinDuration(t, now, p.CreatedAt, time.Second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindProductByNamePrefix(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	long := strings.Repeat("a", 60) + "_x"
	mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE name ILIKE $1`)).
		WithArgs("%" + strings.Repeat("a", 50) + "%").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE name ILIKE $1`)).
		WithArgs(`%100\% Cotton\_Strap%`).
		WillReturnRows(sqlmock.NewRows(productCols).
			AddRow("p-9", "100% Cotton_Strap", "", "", "", "", "", time.Now()))

	_, err := store.FindProductByNamePrefix(context.Background(), long)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	p, err := store.FindProductByNamePrefix(context.Background(), "100% Cotton_Strap")
	require.NoError(t, err)
	assert.Equal(t, "p-9", p.ID)

	_, err = store.FindProductByNamePrefix(context.Background(), "   ")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateProduct(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO products (id, name, brand, category, description, image_url, external_id)`)).
		WithArgs(sqlmock.AnyArg(), "Boss DS-1", "Boss", "", "", "", "114495").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	p, err := store.CreateProduct(context.Background(), models.Product{Name: "Boss DS-1", Brand: "Boss", ExternalID: "114495"})
	require.NoError(t, err)
	assert.Len(t, p.ID, 36)
	assert.Equal(t, now, p.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordPrice(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO prices (id, product_id, store_id, price, currency, is_available, url)`)).
		WithArgs(sqlmock.AnyArg(), "p-1", "s-1", "289.99", "EUR", true, "https://www.thomann.de/de/x.htm").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := store.RecordPrice(context.Background(), models.PriceObservation{
		ProductID:   "p-1",
		StoreID:     "s-1",
		Price:       289.99,
		Currency:    "EUR",
		IsAvailable: true,
		URL:         "https://www.thomann.de/de/x.htm",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordPrice_Error(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO prices`)).WillReturnError(errors.New("connection reset"))

	_, err := store.RecordPrice(context.Background(), models.PriceObservation{ProductID: "p-1", Price: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresStore_SearchProducts(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	created := time.Now().Add(-48 * time.Hour)
	observed := time.Now().Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE name ILIKE $1 OR brand ILIKE $1 OR description ILIKE $1`)).
		WithArgs("%gitarre%", 10).
		WillReturnRows(sqlmock.NewRows(productCols).
			AddRow("p-1", "Gitarre A", "", "", "", "", "", created).
			AddRow("p-2", "Gitarre B", "", "", "", "", "", created))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT ON (pr.product_id, pr.store_id)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "store_id", "price", "currency", "is_available", "url", "observed_at", "name", "domain"}).
			AddRow("pr-1", "p-1", "s-1", "299.99", "EUR", true, "https://a.test/1", observed, "Amazon", "amazon.de").
			AddRow("pr-2", "p-1", "s-2", "289.99", "EUR", true, "https://t.test/1", observed, "Thomann", "thomann.de"))

	results, err := store.SearchProducts(context.Background(), " gitarre ", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, results[0].Prices, 2)
	assert.Equal(t, 299.99, results[0].Prices[0].Price)
	assert.Equal(t, "thomann.de", results[0].Prices[1].StoreDomain)
	assert.Empty(t, results[1].Prices)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchProducts_NoMatches(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM products`)).
		WithArgs("%ukulele%", 20).
		WillReturnRows(sqlmock.NewRows(productCols))

	results, err := store.SearchProducts(context.Background(), "ukulele", 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = store.SearchProducts(context.Background(), "  ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestPrices(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	observed := time.Now().Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE pr.product_id = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "store_id", "price", "currency", "is_available", "url", "observed_at", "name", "domain"}).
			AddRow("pr-7", "p-1", "s-1", "349.00", "EUR", true, "https://www.amazon.de/dp/B01MQOD8Z4", observed, "Amazon", "amazon.de").
			AddRow("pr-9", "p-1", "s-2", "333.00", "EUR", false, "https://www.thomann.de/de/ibanez_rg421.htm", observed, "Thomann", "thomann.de"))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE pr.product_id = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	prices, err := store.LatestPrices(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "https://www.thomann.de/de/ibanez_rg421.htm", prices[1].URL)
	assert.Equal(t, "thomann.de", prices[1].StoreDomain)
	assert.Equal(t, 333.0, prices[1].Price)
	assert.False(t, prices[1].IsAvailable)

	_, err = store.LatestPrices(context.Background(), "p-2")
	assert.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS stores`)).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
