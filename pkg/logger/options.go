package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option 修改 Config
type Option func(*Config)

func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

// WithConsole 输出到 stdout
func WithConsole() Option {
	return func(c *Config) { c.Console = true }
}

// WithFileOutput 追加写入单个文件，不轮转
func WithFileOutput(filename string) Option {
	return func(c *Config) { c.File = filename }
}

// WithRotate 使用 lumberjack 轮转写入
func WithRotate(rotate *RotateConfig) Option {
	return func(c *Config) { c.Rotate = rotate }
}

func WithSampling(sampling *SamplingConfig) Option {
	return func(c *Config) { c.Sampling = sampling }
}

// WithoutCaller 不记录调用位置
func WithoutCaller() Option {
	return func(c *Config) { c.DisableCaller = true }
}

func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithFields 附加固定字段，可多次调用
func WithFields(fields ...zap.Field) Option {
	return func(c *Config) { c.Fields = append(c.Fields, fields...) }
}

func WithEncoderConfig(ec *zapcore.EncoderConfig) Option {
	return func(c *Config) { c.EncoderConfig = ec }
}

func WithHook(hook Hook) Option {
	return func(c *Config) { c.Hooks = append(c.Hooks, hook) }
}
