package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/mq"
	"storefront/internal/service/order/application"
	"storefront/internal/service/order/domain"
)

// errMalformedCommand 表示消息本身无法处理，重试没有意义
var errMalformedCommand = errors.New("malformed fulfillment command")

// FulfillmentConsumerAdapter 是一个驱动适配器，监听履约系统下发的状态指令并驱动应用服务。
type FulfillmentConsumerAdapter struct {
	reader      *kafka.Reader
	appSvc      *application.OrderApplicationService
	deadLetters mq.MessageWriter // 可为 nil
	wg          sync.WaitGroup
	stopped     atomic.Bool

	maxAttempts int
	backoff     time.Duration
}

// NewFulfillmentConsumerAdapter 创建一个新的Kafka消费者适配器。
func NewFulfillmentConsumerAdapter(reader *kafka.Reader, appSvc *application.OrderApplicationService, deadLetters mq.MessageWriter) *FulfillmentConsumerAdapter {
	return &FulfillmentConsumerAdapter{
		reader:      reader,
		appSvc:      appSvc,
		deadLetters: deadLetters,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
}

// Start 开始监听Kafka主题，消费循环在后台 goroutine 中运行。
func (a *FulfillmentConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("Fulfillment consumer started.")
		for {
			if a.stopped.Load() {
				return
			}
			// 使用 FetchMessage 而不是 ReadMessage，处理完成后再手动提交
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("Fulfillment consumer shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("Could not read message, retrying")
				time.Sleep(1 * time.Second)
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			a.handle(msgCtx, msg)

			// 无论成功、跳过还是已转入死信，都提交 offset
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
			}
		}
	}()
	return nil
}

// Stop 优雅地停止消费者。
func (a *FulfillmentConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	_ = a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("Fulfillment consumer stopped.")
}

// handle 对内部错误做有限次重试；格式错误和重试耗尽的消息转入死信，业务拒绝只记录日志
func (a *FulfillmentConsumerAdapter) handle(ctx context.Context, msg kafka.Message) {
	log := logger.Ctx(ctx).With().Int64("offset", msg.Offset).Int("partition", msg.Partition).Logger()

	for attempt := 1; ; attempt++ {
		err := a.processMessage(ctx, msg)
		switch {
		case err == nil:
			return
		case errors.Is(err, errMalformedCommand):
			log.Error().Err(err).Msg("Malformed fulfillment command")
			a.deadLetter(ctx, msg, err)
			return
		case domain.KindOf(err) != domain.KindInternal:
			// 重复投递或状态已被其他途径推进，属于正常现象
			log.Warn().Err(err).Msg("Fulfillment command rejected")
			return
		case attempt >= a.maxAttempts || ctx.Err() != nil:
			log.Error().Err(err).Int("attempts", attempt).Msg("Fulfillment command failed")
			a.deadLetter(ctx, msg, err)
			return
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("Fulfillment command failed, retrying")
		select {
		case <-ctx.Done():
		case <-time.After(a.backoff * time.Duration(attempt)):
		}
	}
}

// processMessage 反序列化消息并调用应用服务。
func (a *FulfillmentConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	var cmd domain.FulfillmentStatusCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		return fmt.Errorf("%w: %v", errMalformedCommand, err)
	}
	if cmd.OrderID <= 0 {
		return fmt.Errorf("%w: orderId is required", errMalformedCommand)
	}
	target, ok := domain.ParseState(cmd.State)
	if !ok {
		return fmt.Errorf("%w: unknown state %q", errMalformedCommand, cmd.State)
	}

	order, err := a.appSvc.UpdateStatus(ctx, cmd.OrderID, target)
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("event_id", cmd.EventID).Int64("order_id", order.ID).
		Str("state", string(order.State)).Msg("Fulfillment status applied")
	return nil
}

func (a *FulfillmentConsumerAdapter) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if a.deadLetters == nil {
		return
	}
	if err := a.deadLetters.WriteMessages(ctx, mq.NewDeadLetter(msg, cause)); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to write dead letter")
	}
}
