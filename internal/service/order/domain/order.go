// internal/service/order/domain/order.go
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine 是订单行。UnitPrice 是预占库存那一刻的商品价格快照，之后不再回读商品价格。
type OrderLine struct {
	ID          int64
	ProductID   int64
	ProductName string // 仅用于展示，读取订单时加载
	Quantity    int
	UnitPrice   decimal.Decimal
}

// LineTotal = Quantity × UnitPrice
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order 是订单聚合的根实体
type Order struct {
	ID              int64
	OrderNumber     string
	UserID          int64
	State           State
	TotalAmount     decimal.Decimal // 创建时计算一次，之后冻结
	ShippingAddress string
	Notes           string
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrder 用已预占的订单行构造一个 Pending 订单，并一次性计算总价
func NewOrder(orderNumber string, userID int64, shippingAddress, notes string, lines []OrderLine, now time.Time) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}
	if orderNumber == "" {
		return nil, fmt.Errorf("%w: order number is required", ErrValidation)
	}

	total := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be greater than 0", ErrValidation)
		}
		total = total.Add(line.LineTotal())
	}

	return &Order{
		OrderNumber:     orderNumber,
		UserID:          userID,
		State:           StatePending,
		TotalAmount:     total,
		ShippingAddress: shippingAddress,
		Notes:           notes,
		Lines:           lines,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Cancel 自助取消，只有 Pending 订单可以被取消
func (o *Order) Cancel(now time.Time) error {
	if o.State != StatePending {
		return fmt.Errorf("%w: only pending orders can be cancelled, current state is %s", ErrInvalidStateTransition, o.State)
	}
	o.State = StateCancelled
	o.UpdatedAt = now
	return nil
}

// AdvanceTo 后台履约状态变更。是否允许由调用方的 TransitionPolicy 决定。
func (o *Order) AdvanceTo(to State, now time.Time) {
	o.State = to
	o.UpdatedAt = now
}

// OwnedBy 判断订单是否属于该用户
func (o *Order) OwnedBy(userID int64) bool {
	return o.UserID == userID
}
