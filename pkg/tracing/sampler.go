package tracing

import (
	"os"
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// newSampler 按 SamplingType 创建采样器
// 设置了 OTEL_TRACES_SAMPLER 时以环境变量为准，OTEL_TRACES_SAMPLER_ARG 覆盖采样率
func newSampler(cfg *Config) trace.Sampler {
	name, ratio := cfg.SamplingType, cfg.SamplingRate
	if env := os.Getenv("OTEL_TRACES_SAMPLER"); env != "" {
		name = env
		if arg, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64); err == nil && arg >= 0 && arg <= 1 {
			ratio = arg
		}
	}

	switch name {
	case "always", "always_on":
		return trace.AlwaysSample()
	case "never", "always_off":
		return trace.NeverSample()
	case "ratio", "traceidratio":
		return trace.TraceIDRatioBased(ratio)
	case "parentbased_always_on":
		return trace.ParentBased(trace.AlwaysSample())
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample())
	default:
		// parent_based / parentbased_traceidratio
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	}
}
