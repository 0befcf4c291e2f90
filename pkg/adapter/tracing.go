package adapter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/qio/pkg/tracing"
)

const adapterTracerName = "qio.adapter"

// tracedTransport 链路追踪传输层装饰器
type tracedTransport struct {
	Transport
	tracer trace.Tracer
}

// NewTracing 创建带链路追踪的传输层
func NewTracing(t Transport) Transport {
	return &tracedTransport{
		Transport: t,
		tracer:    tracing.Tracer(adapterTracerName),
	}
}

func (t *tracedTransport) attrs(channel string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", t.Transport.Name()),
		attribute.String("messaging.destination.name", channel),
	}
}

// Publish 每次发布一个 Producer Span
func (t *tracedTransport) Publish(ctx context.Context, channel, key string, data []byte) error {
	ctx, span := t.tracer.Start(ctx, "publish "+channel,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(t.attrs(channel)...),
	)
	span.SetAttributes(
		attribute.String("messaging.message.key", key),
		attribute.Int("messaging.message.body.size", len(data)),
	)

	err := t.Transport.Publish(ctx, channel, key, data)
	tracing.End(span, err)
	return err
}

// Subscribe 每条入站消息一个 Consumer Span
func (t *tracedTransport) Subscribe(ctx context.Context, channel string, ready func(), deliver func([]byte)) error {
	return t.Transport.Subscribe(ctx, channel, ready, func(data []byte) {
		_, span := t.tracer.Start(ctx, "receive "+channel,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(t.attrs(channel)...),
		)
		span.SetAttributes(attribute.Int("messaging.message.body.size", len(data)))
		deliver(data)
		span.End()
	})
}
