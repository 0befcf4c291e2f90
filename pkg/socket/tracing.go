package socket

import (
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/qio/pkg/tracing"
)

const socketTracerName = "qio.socket"

// TracingMiddleware 每次事件处理一个 Span，关联握手请求的 Span
func TracingMiddleware() Middleware {
	return func(s *Socket, event string, data json.RawMessage, next NextFunc) error {
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("socket.conn_id", s.ID()),
				attribute.String("socket.event", event),
				attribute.Int("socket.payload.size", len(data)),
			),
		}
		if req := s.Request(); req != nil {
			opts = append(opts, trace.WithLinks(trace.LinkFromContext(req.Context())))
		}

		_, span := tracing.Tracer(socketTracerName).Start(s.Context(), "event "+event, opts...)
		err := next()
		tracing.End(span, err)
		return err
	}
}
