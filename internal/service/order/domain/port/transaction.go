package port

import (
	"context"
	"errors"

	"storefront/internal/service/order/domain"
)

// ErrDuplicateOrderNumber 表示订单号撞上了唯一索引，调用方应换一个订单号重试整个事务
var ErrDuplicateOrderNumber = errors.New("duplicate order number")

// TxScope 是一个事务范围内可用的仓储集合
type TxScope interface {
	Ledger() InventoryLedger
	Orders() domain.OrderRepository
}

// UnitOfWork 是事务协调器的出站端口。
type UnitOfWork interface {
	// Orders 返回事务外的订单仓储，用于只读查询。
	Orders() domain.OrderRepository

	// Transaction 在一个事务范围内执行 fn：fn 返回 nil 则提交，返回错误或 panic 则整体回滚。
	// 同一商品的库存在并发事务之间必须是串行化的。
	Transaction(ctx context.Context, fn func(ctx context.Context, tx TxScope) error) error
}
