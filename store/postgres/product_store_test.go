package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aluiziolira/go-scrape-beauty/models"
	"github.com/aluiziolira/go-scrape-beauty/store"
)

func sampleRecord() *models.ProductRecord {
	return &models.ProductRecord{
		URL:      "https://site/p/1",
		Name:     "Toner X",
		Brand:    "B",
		Price:    100,
		Category: "Toner",
		Rating:   4.5,
		Volume:   "150ml",
		Images:   []string{"img1.jpg"},
	}
}

func expectSchema(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE UNIQUE INDEX IF NOT EXISTS products_url_key ON products").
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
}

func upsertArgs(r *models.ProductRecord, images []byte) []any {
	return []any{
		r.URL, r.Name, r.Brand, r.Price, r.Category, r.Rating,
		r.IngredientRaw, r.UsageTip, r.DescriptionRaw,
		r.Volume, r.MadeFrom, r.SkinType, images,
	}
}

func TestUpsertCreatesSchemaOnce(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ps, err := NewProductStoreWithPool(mock, "products", zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := sampleRecord()
	expectSchema(mock)
	mock.ExpectExec("INSERT INTO products .* ON CONFLICT \\(url\\) DO UPDATE SET").
		WithArgs(upsertArgs(rec, []byte(`["img1.jpg"]`))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	updated := *rec
	updated.Price = 90
	mock.ExpectExec("INSERT INTO products").
		WithArgs(upsertArgs(&updated, []byte(`["img1.jpg"]`))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ps.Upsert(context.Background(), rec))
	require.NoError(t, ps.Upsert(context.Background(), &updated))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEncodesNilImagesAsEmptyArray(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ps, err := NewProductStoreWithPool(mock, "", nil)
	require.NoError(t, err)

	rec := sampleRecord()
	rec.Images = nil
	expectSchema(mock)
	mock.ExpectExec("INSERT INTO products").
		WithArgs(upsertArgs(rec, []byte(`[]`))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ps.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRetriesSchemaAfterFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ps, err := NewProductStoreWithPool(mock, "products", zaptest.NewLogger(t))
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").
		WillReturnError(errors.New("connection reset"))
	err = ps.Upsert(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create table products")

	expectSchema(mock)
	mock.ExpectExec("INSERT INTO products").
		WithArgs(upsertArgs(sampleRecord(), []byte(`["img1.jpg"]`))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, ps.Upsert(context.Background(), sampleRecord()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPropagatesExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ps, err := NewProductStoreWithPool(mock, "products", nil)
	require.NoError(t, err)

	boom := errors.New("disk full")
	expectSchema(mock)
	mock.ExpectExec("INSERT INTO products").
		WithArgs(upsertArgs(sampleRecord(), []byte(`["img1.jpg"]`))...).
		WillReturnError(boom)

	err = ps.Upsert(context.Background(), sampleRecord())
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsMissingURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ps, err := NewProductStoreWithPool(mock, "products", nil)
	require.NoError(t, err)

	require.ErrorIs(t, ps.Upsert(context.Background(), &models.ProductRecord{Name: "x"}), store.ErrMissingURL)
	require.ErrorIs(t, ps.Upsert(context.Background(), nil), store.ErrMissingURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewProductStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewProductStoreWithPool(mock, "products; DROP TABLE x", nil)
	require.Error(t, err)

	_, err = NewProductStoreWithPool(nil, "products", nil)
	require.Error(t, err)
}

func TestCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ps, err := NewProductStoreWithPool(mock, "products", nil)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM products")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := ps.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForEachScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ps, err := NewProductStoreWithPool(mock, "products", zaptest.NewLogger(t))
	require.NoError(t, err)

	columns := []string{"id", "url", "name", "brand", "price", "category", "rating",
		"ingredient_raw", "usage_tip", "description_raw", "volume", "made_from", "skin_type", "images"}
	rows := pgxmock.NewRows(columns).
		AddRow(int64(1), "https://site/p/1", "Toner X", "B", 100.0, "Toner", 4.5, "", "", "Gentle toner", "150ml", "", "", []byte(`["img1.jpg"]`)).
		AddRow(int64(2), "https://site/p/2", "Serum Y", "C", 250.0, "Serum", 0.0, "Water", "", "", "", "Korea", "Oily", []byte(`[]`))
	mock.ExpectQuery("SELECT id, url, .* FROM products ORDER BY id").WillReturnRows(rows)

	var got []models.StoredProduct
	err = ps.ForEach(context.Background(), func(p models.StoredProduct) error {
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "Toner X", got[0].Name)
	assert.Equal(t, []string{"img1.jpg"}, got[0].Images)
	assert.Equal(t, "2", got[1].ID)
	assert.Equal(t, "Korea", got[1].MadeFrom)
	assert.Empty(t, got[1].Images)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForEachStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ps, err := NewProductStoreWithPool(mock, "products", nil)
	require.NoError(t, err)

	columns := []string{"id", "url", "name", "brand", "price", "category", "rating",
		"ingredient_raw", "usage_tip", "description_raw", "volume", "made_from", "skin_type", "images"}
	rows := pgxmock.NewRows(columns).
		AddRow(int64(1), "https://site/p/1", "Toner X", "B", 100.0, "Toner", 4.5, "", "", "", "", "", "", []byte(`[]`)).
		AddRow(int64(2), "https://site/p/2", "Serum Y", "C", 250.0, "Serum", 0.0, "", "", "", "", "", "", []byte(`[]`))
	mock.ExpectQuery("SELECT id, url").WillReturnRows(rows)

	stop := errors.New("stop")
	calls := 0
	err = ps.ForEach(context.Background(), func(models.StoredProduct) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
