package mq

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// 死信消息头，记录原始位置和失败原因
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionMessage  = "x-exception-message"
)

// MessageWriter 是 *kafka.Writer 的最小抽象，便于测试替换
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DeadLetterTopic 返回主题对应的死信主题名
func DeadLetterTopic(topic string) string {
	return topic + ".dlt"
}

// NewDeadLetter 基于原始消息构造死信：保留 key/value 和原有消息头，追加来源和失败原因
func NewDeadLetter(msg kafka.Message, cause error) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)
	if cause != nil {
		headers = append(headers, kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())})
	}
	return kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}
