package port

import (
	"context"

	"storefront/internal/service/order/domain"
)

// EventPublisher 是订单事件的出站端口，在事务提交之后调用。
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.OrderEvent) error
}
