package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductModel 对应数据库中的 products 表。商品目录由商品服务维护，订单服务只读写价格快照和库存。
type ProductModel struct {
	ID            int64           `gorm:"primaryKey"`
	Name          string          `gorm:"size:200;not null"`
	Price         decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	StockQuantity int             `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

func (ProductModel) TableName() string {
	return "products"
}

// OrderModel 对应数据库中的 orders 表，订单永不物理删除
type OrderModel struct {
	ID              int64           `gorm:"primaryKey"`
	OrderNumber     string          `gorm:"size:50;uniqueIndex;not null"`
	UserID          int64           `gorm:"index;not null"`
	Status          string          `gorm:"size:20;index;not null"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	ShippingAddress string          `gorm:"size:500"`
	Notes           string          `gorm:"size:500"`
	CreatedAt       time.Time       `gorm:"index"`
	UpdatedAt       time.Time
	// 关联关系
	Lines []OrderLineModel `gorm:"foreignKey:OrderID"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderLineModel 对应数据库中的 order_items 表
type OrderLineModel struct {
	ID        int64           `gorm:"primaryKey"`
	OrderID   int64           `gorm:"index;not null"`
	ProductID int64           `gorm:"index;not null"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	CreatedAt time.Time
	// 仅用于读取时预加载商品名称，写入时为 nil
	Product *ProductModel `gorm:"foreignKey:ProductID"`
}

func (OrderLineModel) TableName() string {
	return "order_items"
}
