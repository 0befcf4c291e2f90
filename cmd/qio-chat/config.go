package main

import (
	"io"
	"net"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"

	"github.com/tokmz/qio/pkg/adapter"
	"github.com/tokmz/qio/pkg/config"
	"github.com/tokmz/qio/pkg/logger"
	"github.com/tokmz/qio/pkg/socket"
	"github.com/tokmz/qio/pkg/tracing"
)

// AppConfig 聊天服务配置
type AppConfig struct {
	Server  ServerConfig    `mapstructure:"server" yaml:"server"`
	Socket  SocketConfig    `mapstructure:"socket" yaml:"socket"`
	Adapter *adapter.Config `mapstructure:"adapter" yaml:"adapter"`
	Log     LogConfig       `mapstructure:"log" yaml:"log"`
	Tracing *tracing.Config `mapstructure:"tracing" yaml:"tracing"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            string        `mapstructure:"port" yaml:"port"`
	Path            string        `mapstructure:"path" yaml:"path"`
	StaticDir       string        `mapstructure:"static_dir" yaml:"static_dir"`
	Mode            string        `mapstructure:"mode" yaml:"mode"` // gin 模式：debug/release/test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr 监听地址
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// SocketConfig 连接与房间配置
type SocketConfig struct {
	MaxConnections    int           `mapstructure:"max_connections" yaml:"max_connections"`
	MaxRoomSize       int           `mapstructure:"max_room_size" yaml:"max_room_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size" yaml:"max_message_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	PublishTimeout    time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowAllOrigins   bool          `mapstructure:"allow_all_origins" yaml:"allow_all_origins"`
}

// Options 转换为 socket 选项
func (c SocketConfig) Options() []socket.Option {
	opts := []socket.Option{
		socket.WithMaxConnections(c.MaxConnections),
		socket.WithMaxRoomSize(c.MaxRoomSize),
		socket.WithMessageSizeLimit(c.MaxMessageSize),
		socket.WithHeartbeat(c.HeartbeatInterval, c.HeartbeatTimeout),
		socket.WithPublishTimeout(c.PublishTimeout),
	}
	switch {
	case c.AllowAllOrigins:
		opts = append(opts, socket.WithAllowAllOrigins())
	case len(c.AllowedOrigins) > 0:
		opts = append(opts, socket.WithCheckOriginWhitelist(c.AllowedOrigins))
	}
	return opts
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Logger 按配置创建日志
func (c LogConfig) Logger() (logger.Logger, error) {
	level, err := logger.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	opts := []logger.Option{
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithConsole(),
		logger.WithName("qio-chat"),
	}
	if c.File != "" {
		opts = append(opts, logger.WithRotate(&logger.RotateConfig{
			Filename:   c.File,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   c.Compress,
		}))
	}
	return logger.NewWithOptions(opts...)
}

func defaultAppConfig() *AppConfig {
	tc := tracing.DefaultConfig()
	tc.ServiceName = "qio-chat"

	sc := socket.DefaultConfig()
	return &AppConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "3000",
			Path:            "/socket.io/",
			StaticDir:       "./public",
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Socket: SocketConfig{
			MaxConnections:    sc.MaxConnections,
			MaxMessageSize:    sc.MaxMessageSize,
			HeartbeatInterval: sc.HeartbeatInterval,
			HeartbeatTimeout:  sc.HeartbeatTimeout,
			PublishTimeout:    sc.PublishTimeout,
			AllowAllOrigins:   true,
		},
		Adapter: adapter.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: tc,
	}
}

// loadConfig 加载配置文件与环境变量（QIO_ 前缀），HOST 与 PORT 优先
// path 为空时在当前目录与 ./config 下查找 qio-chat.yaml，找不到时使用默认值
func loadConfig(path string, onChange func(fsnotify.Event)) (*config.Config, *AppConfig, error) {
	opts := []config.Option{
		config.WithEnvPrefix("QIO"),
		config.WithOnChange(onChange),
	}
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	} else {
		opts = append(opts,
			config.WithConfigName("qio-chat"),
			config.WithConfigType("yaml"),
			config.WithConfigPaths(".", "./config"),
			config.WithOptional(true),
		)
	}

	cfg := config.New(opts...)
	if err := cfg.Load(); err != nil {
		return nil, nil, err
	}

	app := defaultAppConfig()
	if err := cfg.Unmarshal(app); err != nil {
		return nil, nil, err
	}

	if host := os.Getenv("HOST"); host != "" {
		app.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		app.Server.Port = port
	}
	return cfg, app, nil
}

// dumpConfig 以 YAML 输出生效的配置
func dumpConfig(w io.Writer, app *AppConfig) error {
	out, err := yaml.MarshalWithOptions(app, yaml.Indent(2))
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
