package adapter

import "context"

// Transport 消息代理传输层
type Transport interface {
	// Name 传输层名称（如 redis、nats）
	Name() string

	// Publish 向 channel 发布一条消息
	// key 为分区键（发布节点 ID），支持分区的代理据此保证同一节点的消息有序
	Publish(ctx context.Context, channel, key string, data []byte) error

	// Subscribe 阻塞订阅 channel
	// 订阅建立后调用 ready，之后每条消息调用 deliver；deliver 可能被并发调用
	// ctx 取消时返回 nil；连接断开时必须返回错误而不是在内部静默重连，
	// 适配器据此重新订阅并再次调用 ready，触发重连后的成员重新通告
	Subscribe(ctx context.Context, channel string, ready func(), deliver func([]byte)) error

	// Close 释放连接
	Close() error
}
