package port

import (
	"context"

	"github.com/shopspring/decimal"
	"storefront/internal/service/order/domain"
)

// Reservation 是一次成功预占的结果，UnitPrice 是预占那一刻的商品价格
type Reservation struct {
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// InventoryLedger 是库存账本的出站端口，是商品库存唯一合法的修改者。
// 所有方法都必须在 TxScope 内调用，提交后才可见，回滚时全部撤销。
type InventoryLedger interface {
	// GetProduct 读取商品当前价格与库存。不存在时返回 domain.ErrProductNotFound。
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)

	// TryReserve 在库存充足时原子地扣减库存，并返回当前单价。
	// 失败时返回包装了 ErrProductNotFound 或 ErrInsufficientStock 的 *domain.ProductError。
	TryReserve(ctx context.Context, productID int64, quantity int) (*Reservation, error)

	// Release 归还库存。账本不做去重，调用方保证每个订单行最多归还一次。
	Release(ctx context.Context, productID int64, quantity int) error
}
