package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/domain/port"
)

// GormLedger 是基于 MySQL 的库存账本，必须在事务连接上使用
type GormLedger struct {
	db *gorm.DB
}

var _ port.InventoryLedger = (*GormLedger)(nil)

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	var m ProductModel
	if err := l.db.WithContext(ctx).First(&m, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrProductNotFound}
		}
		return nil, errors.Wrapf(err, "get product %d", productID)
	}
	return ToDomainProduct(&m), nil
}

// TryReserve 先用 SELECT ... FOR UPDATE 锁住商品行，读出价格和库存，
// 再用带条件的 UPDATE 扣减，条件不满足时不会产生负库存。
func (l *GormLedger) TryReserve(ctx context.Context, productID int64, quantity int) (*port.Reservation, error) {
	if quantity <= 0 {
		return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrValidation}
	}

	db := l.db.WithContext(ctx)

	var m ProductModel
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", productID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrProductNotFound}
		}
		return nil, errors.Wrapf(err, "lock product %d", productID)
	}
	if m.StockQuantity < quantity {
		return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrInsufficientStock}
	}

	res := db.Model(&ProductModel{}).
		Where("id = ? AND stock_quantity >= ?", productID, quantity).
		UpdateColumn("stock_quantity", gorm.Expr("stock_quantity - ?", quantity))
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "decrement stock of product %d", productID)
	}
	if res.RowsAffected == 0 {
		return nil, &domain.ProductError{ProductID: productID, Err: domain.ErrInsufficientStock}
	}

	return &port.Reservation{
		ProductID:   m.ID,
		ProductName: m.Name,
		Quantity:    quantity,
		UnitPrice:   m.Price,
	}, nil
}

func (l *GormLedger) Release(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return &domain.ProductError{ProductID: productID, Err: domain.ErrValidation}
	}

	res := l.db.WithContext(ctx).Model(&ProductModel{}).
		Where("id = ?", productID).
		UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", quantity))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "increment stock of product %d", productID)
	}
	if res.RowsAffected == 0 {
		return &domain.ProductError{ProductID: productID, Err: domain.ErrProductNotFound}
	}
	return nil
}
