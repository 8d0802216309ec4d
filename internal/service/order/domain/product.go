package domain

import "github.com/shopspring/decimal"

// Product 是下单流程看到的商品视图。商品本身由商品服务维护，库存只能通过 InventoryLedger 修改。
type Product struct {
	ID            int64
	Name          string
	Price         decimal.Decimal
	StockQuantity int
}
