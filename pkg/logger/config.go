package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format 日志编码格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

// ParseFormat 解析格式名称，空串视为 json
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return JSONFormat, nil
	case JSONFormat, ConsoleFormat:
		return f, nil
	default:
		return "", fmt.Errorf("unknown log format %q", s)
	}
}

// Config 日志配置
type Config struct {
	Level  Level
	Format Format // 默认 json

	// 三种输出可叠加；都未配置时输出到 stdout
	Console bool
	File    string
	Rotate  *RotateConfig

	Sampling *SamplingConfig

	DisableCaller     bool
	DisableStacktrace bool // 关闭 Error 及以上级别的堆栈

	// Name 作为 logger 字段输出，如 "socket"、"adapter"
	Name string
	// Fields 附加到每条日志的固定字段，如节点 ID
	Fields        []zap.Field
	EncoderConfig *zapcore.EncoderConfig
	Hooks         []Hook
}

// normalize 填充默认值并校验
func (c *Config) normalize() error {
	format, err := ParseFormat(string(c.Format))
	if err != nil {
		return err
	}
	c.Format = format
	if c.Rotate != nil && c.Rotate.Filename == "" {
		return fmt.Errorf("rotate output requires a filename")
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
	return nil
}
