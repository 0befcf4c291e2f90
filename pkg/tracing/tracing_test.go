package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tokmz/qio/pkg/errors"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "grpc exporter", modify: func(c *Config) { c.ExporterType = ExporterOTLPGRPC }},
		{name: "empty service", modify: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "rate too high", modify: func(c *Config) { c.SamplingRate = 1.5 }, wantErr: true},
		{name: "unknown exporter", modify: func(c *Config) { c.ExporterType = "jaeger" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewTracerProviderDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExporterType = ExporterStdout
	cfg.Enabled = false

	tp, err := NewTracerProvider(cfg)
	require.NoError(t, err)
	require.NotNil(t, tp)
	// 调用方配置不被修改
	assert.Equal(t, ExporterStdout, cfg.ExporterType)
	assert.NoError(t, Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		typ  string
		want string
	}{
		{typ: "always", want: "AlwaysOnSampler"},
		{typ: "never", want: "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.SamplingType = tt.typ
			assert.Equal(t, tt.want, newSampler(cfg).Description())
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	var seenTraceID string
	r := gin.New()
	r.Use(Middleware(func(c *gin.Context) bool { return c.Request.URL.Path == "/healthz" }))
	r.GET("/socket.io/", func(c *gin.Context) {
		seenTraceID = TraceID(c.Request.Context())
		c.Status(http.StatusInternalServerError)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/socket.io/", nil))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /socket.io/", spans[0].Name())
	assert.Equal(t, spans[0].SpanContext().TraceID().String(), seenTraceID)
	assert.NotEmpty(t, w.Header().Get("traceparent"))
	assert.Empty(t, w2.Header().Get("traceparent"))
}
