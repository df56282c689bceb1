package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/pkg/logger"
)

var columns = []string{
	"sku", "status", "title", "description", "brand", "model", "material", "condition", "color", "size",
	"dimensions", "category", "gender", "country", "price", "sale_price", "compare_at_price", "wholesale_price",
	"quantity", "images", "cost", "notes", "remote_id", "published_at", "last_error",
}

func publishedRow(rows *sqlmock.Rows, sku, remoteID string, published time.Time) *sqlmock.Rows {
	return rows.AddRow(sku, "PUBLISHED", "Submariner", "", "Rolex", "126610LN", "", "", "", "",
		"", "Watches", "", "", "12000.50", nil, nil, nil,
		int64(2), "{a.jpg,b.jpg}", "9000", "bought 2023", remoteID, published, "")
}

func TestItemRepository_FindByKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewItemRepository(db, logger.Discard())
	ctx := context.Background()
	published := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog.items WHERE sku = $1")).
		WithArgs("W-1").
		WillReturnRows(publishedRow(sqlmock.NewRows(columns), "W-1", "101", published))

	it, err := repo.FindByKey(ctx, "W-1")
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, models.StatusPublished, it.Status)
	assert.Equal(t, "12000.5", it.Price.String())
	assert.Nil(t, it.SalePrice)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, it.Images)
	assert.Equal(t, "101", it.RemoteID)
	assert.True(t, it.PublishedAt.Equal(published))
	assert.Equal(t, "9000", it.Cost.String())

	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog.items WHERE sku = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	it, err = repo.FindByKey(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, it)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepository_FindAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows(columns)
	publishedRow(rows, "A", "1", time.Now())
	rows.AddRow("B", "PUBLISH_FAILED", "", "", "", "", "", "", "", "",
		"", "", "", "", nil, nil, nil, nil,
		int64(0), nil, nil, "", nil, nil, "create rejected")

	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog.items ORDER BY sku")).WillReturnRows(rows)

	items, err := NewItemRepository(db, logger.Discard()).FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[1].SKU)
	assert.Empty(t, items[1].RemoteID)
	assert.Nil(t, items[1].Images)
	assert.Nil(t, items[1].PublishedAt)
	assert.Equal(t, "create rejected", items[1].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepository_UpsertSkipsEqualRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	published := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := NewItemRepository(db, logger.Discard())
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog.items WHERE sku = $1")).
		WithArgs("W-1").
		WillReturnRows(publishedRow(sqlmock.NewRows(columns), "W-1", "101", published))

	stored, err := repo.FindByKey(ctx, "W-1")
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog.items WHERE sku = $1")).
		WithArgs("W-1").
		WillReturnRows(publishedRow(sqlmock.NewRows(columns), "W-1", "101", published))

	require.NoError(t, repo.Upsert(ctx, *stored))

	changed := stored.Clone()
	changed.Status = models.StatusUpdated
	mock.ExpectQuery(regexp.QuoteMeta("FROM catalog.items WHERE sku = $1")).
		WithArgs("W-1").
		WillReturnRows(publishedRow(sqlmock.NewRows(columns), "W-1", "101", published))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog.items")).
		WithArgs("W-1", "UPDATED", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(ctx, changed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepository_UpsertRejectsInvalidItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	price := decimal.NewFromInt(10)
	bad := models.Item{SKU: "X", Status: models.StatusPublishFailed, RemoteID: "5", Price: &price}

	err = NewItemRepository(db, logger.Discard()).Upsert(context.Background(), bad)
	assert.ErrorIs(t, err, models.ErrRemoteIDStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepository_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewItemRepository(db, logger.Discard())
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM catalog.items WHERE sku = $1")).
		WithArgs("C").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM catalog.items WHERE sku = $1")).
		WithArgs("D").
		WillReturnError(errors.New("connection reset"))

	assert.NoError(t, repo.Delete(context.Background(), "C"))
	assert.Error(t, repo.Delete(context.Background(), "D"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMetadataRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog.metadata")).
		WithArgs("last_sync_report", `{"ok":true}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value, last_update FROM catalog.metadata WHERE key_name = $1")).
		WithArgs("last_sync_report").
		WillReturnRows(sqlmock.NewRows([]string{"value", "last_update"}).AddRow(`{"ok":true}`, at))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value, last_update FROM catalog.metadata WHERE key_name = $1")).
		WithArgs("nothing").
		WillReturnRows(sqlmock.NewRows([]string{"value", "last_update"}))

	require.NoError(t, repo.Set(ctx, "last_sync_report", `{"ok":true}`))
	v, ts, err := repo.Get(ctx, "last_sync_report")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, v)
	assert.True(t, ts.Equal(at))

	v, _, err = repo.Get(ctx, "nothing")
	assert.NoError(t, err)
	assert.Empty(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(models.Item{SKU: "B", Status: models.StatusAvailable}, models.Item{SKU: "A", Status: models.StatusAvailable})

	all, err := s.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", all[0].SKU)

	require.NoError(t, s.Upsert(ctx, models.Item{SKU: "A", Status: models.StatusAvailable}))
	assert.Equal(t, 0, s.Writes(), "equal item is not rewritten")

	require.NoError(t, s.Upsert(ctx, models.Item{SKU: "A", Status: models.StatusPublished, RemoteID: "1"}))
	require.NoError(t, s.Delete(ctx, "B"))
	assert.Equal(t, 2, s.Writes())

	got, err := s.FindByKey(ctx, "B")
	assert.NoError(t, err)
	assert.Nil(t, got)
}
