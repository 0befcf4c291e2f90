package socket

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokmz/qio/pkg/adapter"
	"github.com/tokmz/qio/pkg/logger"
)

// Config 服务配置
type Config struct {
	// 连接配置
	MaxConnections   int           // 最大连接数，0 表示不限
	HandshakeTimeout time.Duration // 握手超时时间
	MaxMessageSize   int64         // 单帧最大字节数
	SendQueueSize    int           // 每个连接的出站队列大小
	WriteWait        time.Duration // 单次写超时
	MaxInvalidFrames int           // 连续无效帧上限，超过后断开

	// 心跳配置
	HeartbeatInterval time.Duration // 心跳间隔
	HeartbeatTimeout  time.Duration // 心跳超时

	// 房间配置
	MaxRoomSize int // 单个房间本地成员上限，0 表示不限

	// 广播配置
	FanoutThreshold int // 房间成员数达到该值时并发投递
	FanoutWorkers   int // 并发投递协程上限

	// 事件总线
	EventWorkers   int
	EventQueueSize int

	// 跨进程
	Adapter        *adapter.Adapter // 为 nil 时仅单进程
	PublishTimeout time.Duration    // 单次发布超时

	// Upgrader 配置
	UpgraderConfig UpgraderConfig

	// 监控与日志
	Metrics Metrics
	Logger  logger.Logger
}

// UpgraderConfig Upgrader 配置
type UpgraderConfig struct {
	ReadBufferSize    int                      // 读缓冲区大小
	WriteBufferSize   int                      // 写缓冲区大小
	CheckOrigin       func(*http.Request) bool // Origin 检查函数
	EnableCompression bool                     // 是否启用压缩
	AllowedOrigins    []string                 // 允许的 Origin 白名单
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		HandshakeTimeout:  10 * time.Second,
		MaxMessageSize:    512 * 1024, // 512KB
		SendQueueSize:     256,
		WriteWait:         10 * time.Second,
		MaxInvalidFrames:  10,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		FanoutThreshold:   64,
		FanoutWorkers:     32,
		EventWorkers:      4,
		EventQueueSize:    1024,
		PublishTimeout:    5 * time.Second,
		UpgraderConfig: UpgraderConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return ErrInvalidConfig.WithMessage("socket: invalid config: " + fmt.Sprintf(format, args...))
	}

	if c.MaxConnections < 0 {
		return invalid("MaxConnections must not be negative, got %d", c.MaxConnections)
	}
	if c.HandshakeTimeout <= 0 {
		return invalid("HandshakeTimeout must be positive, got %v", c.HandshakeTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return invalid("MaxMessageSize must be positive, got %d", c.MaxMessageSize)
	}
	if c.SendQueueSize <= 0 {
		return invalid("SendQueueSize must be positive, got %d", c.SendQueueSize)
	}
	if c.WriteWait <= 0 {
		return invalid("WriteWait must be positive, got %v", c.WriteWait)
	}
	if c.MaxInvalidFrames <= 0 {
		return invalid("MaxInvalidFrames must be positive, got %d", c.MaxInvalidFrames)
	}
	if c.HeartbeatInterval <= 0 {
		return invalid("HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return invalid("HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.MaxRoomSize < 0 {
		return invalid("MaxRoomSize must not be negative, got %d", c.MaxRoomSize)
	}
	if c.FanoutWorkers <= 0 {
		return invalid("FanoutWorkers must be positive, got %d", c.FanoutWorkers)
	}
	if c.EventWorkers <= 0 || c.EventQueueSize <= 0 {
		return invalid("EventWorkers and EventQueueSize must be positive")
	}
	if c.PublishTimeout <= 0 {
		return invalid("PublishTimeout must be positive, got %v", c.PublishTimeout)
	}
	if c.UpgraderConfig.ReadBufferSize <= 0 || c.UpgraderConfig.WriteBufferSize <= 0 {
		return invalid("Upgrader buffer sizes must be positive")
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithMaxRoomSize 设置单个房间本地成员上限
func WithMaxRoomSize(max int) Option {
	return func(c *Config) {
		c.MaxRoomSize = max
	}
}

// WithHeartbeat 设置心跳间隔与超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithMessageSizeLimit 设置单帧大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithSendQueueSize 设置出站队列大小
func WithSendQueueSize(size int) Option {
	return func(c *Config) {
		c.SendQueueSize = size
	}
}

// WithMaxInvalidFrames 设置连续无效帧上限
func WithMaxInvalidFrames(n int) Option {
	return func(c *Config) {
		c.MaxInvalidFrames = n
	}
}

// WithFanout 设置并发投递阈值与协程上限
func WithFanout(threshold, workers int) Option {
	return func(c *Config) {
		c.FanoutThreshold = threshold
		c.FanoutWorkers = workers
	}
}

// WithAdapter 设置跨进程适配器
func WithAdapter(a *adapter.Adapter) Option {
	return func(c *Config) {
		c.Adapter = a
	}
}

// WithPublishTimeout 设置单次发布超时
func WithPublishTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.PublishTimeout = d
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
// 示例：WithCheckOriginWhitelist([]string{"https://example.com", "https://app.example.com"})
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.UpgraderConfig.AllowedOrigins = allowedOrigins
		c.UpgraderConfig.CheckOrigin = createWhitelistChecker(allowedOrigins)
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = func(*http.Request) bool {
			return true
		}
	}
}

// WithEnableCompression 启用压缩
func WithEnableCompression(enable bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.EnableCompression = enable
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// defaultCheckOrigin 同源检查，拒绝空 Origin
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return whitelist[origin]
	}
}

// newUpgrader 创建 gorilla Upgrader
func newUpgrader(cfg *Config) *websocket.Upgrader {
	uc := cfg.UpgraderConfig
	checkOrigin := uc.CheckOrigin
	if checkOrigin == nil {
		if len(uc.AllowedOrigins) > 0 {
			checkOrigin = createWhitelistChecker(uc.AllowedOrigins)
		} else {
			checkOrigin = defaultCheckOrigin
		}
	}

	return &websocket.Upgrader{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		ReadBufferSize:    uc.ReadBufferSize,
		WriteBufferSize:   uc.WriteBufferSize,
		CheckOrigin:       checkOrigin,
		EnableCompression: uc.EnableCompression,
	}
}
