package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/domain/port"
)

// GormUnitOfWork 用数据库事务实现 port.UnitOfWork。
// 库存的串行化依赖 GormLedger 中的行锁，而不是事务隔离级别。
type GormUnitOfWork struct {
	db *gorm.DB
}

var _ port.UnitOfWork = (*GormUnitOfWork)(nil)

func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

func (u *GormUnitOfWork) Orders() domain.OrderRepository {
	return NewGormOrderRepository(u.db)
}

// Transaction fn 返回错误或 panic 时 gorm 会回滚事务
func (u *GormUnitOfWork) Transaction(ctx context.Context, fn func(ctx context.Context, tx port.TxScope) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormTxScope{db: tx})
	})
}

type gormTxScope struct {
	db *gorm.DB
}

func (s *gormTxScope) Ledger() port.InventoryLedger {
	return NewGormLedger(s.db)
}

func (s *gormTxScope) Orders() domain.OrderRepository {
	return NewGormOrderRepository(s.db)
}
