package infrastructure

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/domain/port"
)

const (
	lockProductSQL  = "SELECT \\* FROM `products` WHERE id = \\?.*FOR UPDATE"
	decrementSQL    = "UPDATE `products` SET `stock_quantity`=stock_quantity - \\?"
	incrementSQL    = "UPDATE `products` SET `stock_quantity`=stock_quantity \\+ \\?"
	insertOrderSQL  = "INSERT INTO `orders`"
	insertLinesSQL  = "INSERT INTO `order_items`"
	updateStatusSQL = "UPDATE `orders` SET"
)

var fixedNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	return db, mock
}

func productRows(id int64, name, price string, stock int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "price", "stock_quantity"}).AddRow(id, name, price, stock)
}

func TestGormLedger_GetProduct(t *testing.T) {
	ctx := context.Background()
	getProductSQL := "SELECT \\* FROM `products` WHERE `products`.`id` = \\?.*`products`.`deleted_at` IS NULL"

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(getProductSQL).WillReturnRows(productRows(7, "Novel", "12.50", 3))

		p, err := NewGormLedger(db).GetProduct(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(7), p.ID)
		assert.Equal(t, "Novel", p.Name)
		assert.Equal(t, 3, p.StockQuantity)
		assert.True(t, decimal.RequireFromString("12.50").Equal(p.Price))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing or soft deleted", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(getProductSQL).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := NewGormLedger(db).GetProduct(ctx, 8)
		require.ErrorIs(t, err, domain.ErrProductNotFound)
		var pe *domain.ProductError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, int64(8), pe.ProductID)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(getProductSQL).WillReturnError(errors.New("connection refused"))

		_, err := NewGormLedger(db).GetProduct(ctx, 7)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrProductNotFound)
		assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	})
}

func TestGormLedger_TryReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("reserves and captures price", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(lockProductSQL).WillReturnRows(productRows(1, "Widget", "19.99", 5))
		mock.ExpectExec(decrementSQL).WillReturnResult(sqlmock.NewResult(0, 1))

		res, err := NewGormLedger(db).TryReserve(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.ProductID)
		assert.Equal(t, "Widget", res.ProductName)
		assert.True(t, decimal.RequireFromString("19.99").Equal(res.UnitPrice))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient stock never issues update", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(lockProductSQL).WillReturnRows(productRows(1, "Widget", "19.99", 1))

		_, err := NewGormLedger(db).TryReserve(ctx, 1, 2)
		require.ErrorIs(t, err, domain.ErrInsufficientStock)
		var pe *domain.ProductError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, int64(1), pe.ProductID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guarded update affects no rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(lockProductSQL).WillReturnRows(productRows(1, "Widget", "19.99", 5))
		mock.ExpectExec(decrementSQL).WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := NewGormLedger(db).TryReserve(ctx, 1, 2)
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	})

	t.Run("unknown product", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(lockProductSQL).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := NewGormLedger(db).TryReserve(ctx, 99, 1)
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
		assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	})

	t.Run("store failure is internal", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(lockProductSQL).WillReturnError(errors.New("connection refused"))

		_, err := NewGormLedger(db).TryReserve(ctx, 1, 1)
		require.Error(t, err)
		assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	})
}

func TestGormLedger_Release(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(incrementSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(incrementSQL).WillReturnResult(sqlmock.NewResult(0, 0))

	ledger := NewGormLedger(db)
	require.NoError(t, ledger.Release(context.Background(), 1, 3))
	assert.ErrorIs(t, ledger.Release(context.Background(), 2, 3), domain.ErrProductNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newTestOrder(t *testing.T) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder("ORD-20250101-ABCDEF12", 7, "1 Main St", "", []domain.OrderLine{
		{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("5.50")},
	}, fixedNow)
	require.NoError(t, err)
	return o
}

func TestGormOrderRepository_Save(t *testing.T) {
	t.Run("assigns ids", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(insertOrderSQL).WillReturnResult(sqlmock.NewResult(42, 1))
		mock.ExpectExec(insertLinesSQL).WillReturnResult(sqlmock.NewResult(100, 2))

		o := newTestOrder(t)
		require.NoError(t, NewGormOrderRepository(db).Save(context.Background(), o))
		assert.Equal(t, int64(42), o.ID)
		assert.Equal(t, int64(100), o.Lines[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate order number", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(insertOrderSQL).WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"})

		err := NewGormOrderRepository(db).Save(context.Background(), newTestOrder(t))
		assert.ErrorIs(t, err, port.ErrDuplicateOrderNumber)
	})
}

func TestGormOrderRepository_FindByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `orders`")).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewGormOrderRepository(db).FindByID(context.Background(), 5)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestGormOrderRepository_CompareAndSetState(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(updateStatusSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateStatusSQL).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewGormOrderRepository(db)
	ok, err := repo.CompareAndSetState(context.Background(), 1, domain.StatePending, domain.StateCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompareAndSetState(context.Background(), 1, domain.StatePending, domain.StateCancelled)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUnitOfWork_RollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockProductSQL).WillReturnRows(productRows(1, "Widget", "10.00", 5))
	mock.ExpectExec(decrementSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(lockProductSQL).WillReturnRows(productRows(2, "Gadget", "3.00", 0))
	mock.ExpectRollback()

	err := NewGormUnitOfWork(db).Transaction(context.Background(), func(ctx context.Context, tx port.TxScope) error {
		if _, err := tx.Ledger().TryReserve(ctx, 1, 1); err != nil {
			return err
		}
		_, err := tx.Ledger().TryReserve(ctx, 2, 1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUnitOfWork_Commits(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(updateStatusSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(incrementSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewGormUnitOfWork(db).Transaction(context.Background(), func(ctx context.Context, tx port.TxScope) error {
		ok, err := tx.Orders().CompareAndSetState(ctx, 1, domain.StatePending, domain.StateCancelled)
		if err != nil || !ok {
			return domain.ErrInvalidStateTransition
		}
		return tx.Ledger().Release(ctx, 1, 2)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapper_RoundTripKeepsProductName(t *testing.T) {
	model := FromDomainOrder(newTestOrder(t))
	model.Lines[0].Product = &ProductModel{ID: 1, Name: "Widget"}

	o := ToDomainOrder(model)
	assert.Equal(t, "Widget", o.Lines[0].ProductName)
	assert.Empty(t, o.Lines[1].ProductName)
	assert.True(t, decimal.RequireFromString("25.50").Equal(o.TotalAmount))
	assert.Equal(t, domain.StatePending, o.State)
}
