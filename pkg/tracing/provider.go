package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

var (
	mu      sync.Mutex
	current *trace.TracerProvider
)

// NewTracerProvider 创建 TracerProvider 并注册为全局 Provider，传播格式为 W3C TraceContext + Baggage
// 未启用时仍返回可用的 Provider，Span 只在进程内流转不会导出
func NewTracerProvider(cfg *Config) (*trace.TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exporterCfg := *cfg
	if !cfg.Enabled {
		exporterCfg.ExporterType = ExporterNoop
	}

	ctx := context.Background()
	exporter, err := newExporter(ctx, &exporterCfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create %s exporter: %w", exporterCfg.ExporterType, err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithSampler(newSampler(cfg)),
		trace.WithResource(res),
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(cfg.BatchTimeout),
			trace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			trace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	mu.Lock()
	prev := current
	current = tp
	mu.Unlock()

	// 替换旧 Provider 时释放其导出器
	if prev != nil {
		_ = prev.Shutdown(ctx)
	}
	return tp, nil
}

// newResource 服务信息、自定义属性与 OTEL_RESOURCE_ATTRIBUTES 环境变量
func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithProcessPID(),
		resource.WithTelemetrySDK(),
	)
}

// Shutdown 导出剩余 Span 并关闭当前 Provider
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := current
	current = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
