package socket

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	srv := newTestServer(t)
	srv.Use(TracingMiddleware())

	sock, err := srv.Accept(newPipeConn())
	require.NoError(t, err)
	require.NoError(t, sock.On("ok", func(*Socket, json.RawMessage) error { return nil }))
	require.NoError(t, sock.On("bad", func(*Socket, json.RawMessage) error { return fmt.Errorf("bad") }))

	require.NoError(t, srv.dispatcher.Dispatch(sock, "ok", json.RawMessage(`{}`)))
	require.Error(t, srv.dispatcher.Dispatch(sock, "bad", nil))
	require.NoError(t, srv.dispatcher.Dispatch(sock, "unhandled", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "event ok", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "event bad", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
