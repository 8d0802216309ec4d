package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var headers []kafka.Header
	InjectTraceContext(ctx, &headers)
	assert.NotEmpty(t, headers)

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.True(t, extracted.IsRemote())
}

func TestKafkaHeaderCarrier_SetOverwrites(t *testing.T) {
	c := KafkaHeaderCarrier{}
	c.Set("k", "v1")
	c.Set("k", "v2")
	assert.Equal(t, "v2", c.Get("k"))
	assert.Equal(t, []string{"k"}, c.Keys())
}

func TestNewDeadLetter(t *testing.T) {
	msg := kafka.Message{
		Topic: "order-fulfillment", Partition: 2, Offset: 41,
		Key: []byte("7"), Value: []byte("{oops"),
		Headers: []kafka.Header{{Key: "traceparent", Value: []byte("x")}},
	}
	dl := NewDeadLetter(msg, errors.New("bad json"))

	c := KafkaHeaderCarrier(dl.Headers)
	assert.Equal(t, "order-fulfillment", c.Get(HeaderOriginalTopic))
	assert.Equal(t, "2", c.Get(HeaderOriginalPartition))
	assert.Equal(t, "41", c.Get(HeaderOriginalOffset))
	assert.Equal(t, "bad json", c.Get(HeaderExceptionMessage))
	assert.Equal(t, "x", c.Get("traceparent"))
	assert.Equal(t, msg.Value, dl.Value)
	assert.Empty(t, dl.Topic, "writer decides the topic")
	assert.Equal(t, "order-fulfillment.dlt", DeadLetterTopic(msg.Topic))
}
