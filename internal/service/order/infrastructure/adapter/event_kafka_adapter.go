package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/mq"
	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/domain/port"
)

// EventKafkaAdapter 实现了 port.EventPublisher 接口，把订单事件写入 Kafka。
// 消息 key 是订单 ID，保证同一订单的事件落在同一分区、按顺序消费。
type EventKafkaAdapter struct {
	writer *kafka.Writer
}

var _ port.EventPublisher = (*EventKafkaAdapter)(nil)

// NewEventKafkaAdapter 创建一个新的订单事件生产者适配器。
func NewEventKafkaAdapter(writer *kafka.Writer) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

func (a *EventKafkaAdapter) Publish(ctx context.Context, event *domain.OrderEvent) error {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() && event.TraceID == "" {
		event.TraceID = sc.TraceID().String()
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	// mq.ProduceMessage 会自动注入追踪上下文
	key := []byte(strconv.FormatInt(event.OrderID, 10))
	return mq.ProduceMessage(ctx, a.writer, key, eventBytes)
}

// Close 关闭底层的Kafka writer。
func (a *EventKafkaAdapter) Close() error {
	return a.writer.Close()
}
