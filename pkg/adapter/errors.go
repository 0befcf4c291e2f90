package adapter

import "github.com/tokmz/qio/pkg/errors"

// 适配器错误定义
var (
	// ErrBrokerUnavailable 消息代理不可用（未连接或发布失败）
	ErrBrokerUnavailable = errors.New(4101, "adapter: broker unavailable")
	// ErrInvalidMessage 消息格式错误
	ErrInvalidMessage = errors.New(4102, "adapter: invalid message")
	// ErrInvalidConfig 配置错误
	ErrInvalidConfig = errors.New(4103, "adapter: invalid config")
	// ErrClosed 适配器已关闭
	ErrClosed = errors.New(4104, "adapter: closed")
	// ErrSubscriptionLost 订阅中断
	ErrSubscriptionLost = errors.New(4105, "adapter: subscription lost")
	// ErrAlreadyStarted 重复启动
	ErrAlreadyStarted = errors.New(4106, "adapter: already started")
)
