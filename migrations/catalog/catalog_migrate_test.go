package catalog

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarketplace_sync/pkg/dbconnect/migration"
)

const existsQuery = "SELECT EXISTS (SELECT 1 FROM migrations.migrations WHERE name = $1)"

func TestCreateItemsTable_RunsOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(existsQuery)).
		WithArgs("catalog.items").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS catalog.items")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO migrations.migrations")).
		WithArgs("catalog.items").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, (&CreateItemsTable{}).UpMigration(db))

	mock.ExpectQuery(regexp.QuoteMeta(existsQuery)).
		WithArgs("catalog.items").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, (&CreateItemsTable{}).UpMigration(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE SCHEMA IF NOT EXISTS catalog")).
		WillReturnError(errors.New("permission denied"))

	err = migration.Apply(db, &CreateCatalogSchema{}, &CreateItemsTable{})
	assert.ErrorContains(t, err, "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllStartsWithBookkeeping(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	assert.IsType(t, &CreateCatalogSchema{}, all[1])
}
