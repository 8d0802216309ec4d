// internal/service/order/interfaces/dlt_handler.go
package interfaces

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/mq"
)

// deadLetterReader 是 *kafka.Reader 中死信消费用到的部分
type deadLetterReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Config() kafka.ReaderConfig
	Close() error
}

// DltConsumerAdapter 监听履约指令的死信队列并记录日志，供人工排查
type DltConsumerAdapter struct {
	reader     deadLetterReader
	wg         sync.WaitGroup
	stopped    atomic.Bool
	retryDelay time.Duration
}

func NewDltConsumerAdapter(reader *kafka.Reader) *DltConsumerAdapter {
	return newDltConsumerAdapter(reader)
}

func newDltConsumerAdapter(reader deadLetterReader) *DltConsumerAdapter {
	return &DltConsumerAdapter{
		reader:     reader,
		retryDelay: time.Second,
	}
}

func (a *DltConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("DLT consumer started.")
		for {
			if a.stopped.Load() {
				return
			}
			msg, err := a.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("DLT consumer shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("Could not read dead letter, retrying")
				time.Sleep(a.retryDelay)
				continue
			}

			// ReadMessage 在消费组模式下会自动提交
			logDeadLetter(ctx, msg)
		}
	}()
	return nil
}

func (a *DltConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	_ = a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("DLT consumer stopped.")
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	headers := mq.KafkaHeaderCarrier(msg.Headers)

	// 使用结构化日志记录，便于后续分析
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", headers.Get(mq.HeaderOriginalTopic)).
		Str("original_partition", headers.Get(mq.HeaderOriginalPartition)).
		Str("original_offset", headers.Get(mq.HeaderOriginalOffset)).
		Str("exception_message", headers.Get(mq.HeaderExceptionMessage)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("Dead letter message received")
}
