package infrastructure

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/pkg/bootstrap"
)

const countProductsSQL = "SELECT count\\(\\*\\) FROM `products`"

var demoProducts = []bootstrap.SeedProduct{
	{Name: "Laptop", Price: decimal.RequireFromString("999.99"), StockQuantity: 50},
	{Name: "Headphones", Price: decimal.RequireFromString("149.99"), StockQuantity: 200},
}

func TestSeedProducts_EmptyTable(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(countProductsSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `products`").WillReturnResult(sqlmock.NewResult(1, 2))

	n, err := SeedProducts(context.Background(), db, demoProducts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedProducts_AlreadySeeded(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(countProductsSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	n, err := SeedProducts(context.Background(), db, demoProducts)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedProducts_NothingConfigured(t *testing.T) {
	db, mock := newMockDB(t)

	n, err := SeedProducts(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
