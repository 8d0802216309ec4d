// internal/service/order/domain/event.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderPlaced        EventType = "OrderPlaced"
	EventOrderCancelled     EventType = "OrderCancelled"
	EventOrderStatusChanged EventType = "OrderStatusChanged"
)

// OrderEvent 是事务提交之后对外发布的订单事件
type OrderEvent struct {
	Type        EventType       `json:"type"`
	OrderID     int64           `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	UserID      int64           `json:"userId"`
	From        State           `json:"from,omitempty"`
	State       State           `json:"state"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	TraceID     string          `json:"traceId,omitempty"`
	At          time.Time       `json:"at"`
}

func NewOrderEvent(t EventType, o *Order, from State, at time.Time) *OrderEvent {
	return &OrderEvent{
		Type:        t,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		From:        from,
		State:       o.State,
		TotalAmount: o.TotalAmount,
		At:          at,
	}
}

// FulfillmentStatusCommand 是履约系统通过 Kafka 下发的状态变更指令
type FulfillmentStatusCommand struct {
	OrderID int64  `json:"orderId"`
	State   string `json:"state"`
	EventID string `json:"eventId"`
}
