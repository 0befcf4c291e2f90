package socket

import (
	"github.com/tokmz/qio/pkg/adapter"
	"github.com/tokmz/qio/pkg/errors"
)

// 错误定义
var (
	// 连接相关错误
	ErrUnknownConnection  = errors.New(4001, "socket: unknown connection")
	ErrConnectionGone     = errors.New(4002, "socket: connection gone")
	ErrTooManyConnections = errors.New(4003, "socket: too many connections")
	ErrSendQueueFull      = errors.New(4004, "socket: send queue full")

	// 房间相关错误
	ErrRoomFull = errors.New(4011, "socket: room is full")

	// 事件相关错误
	ErrHandlerFailure = errors.New(4021, "socket: handler failure")
	ErrInvalidFrame   = errors.New(4022, "socket: invalid frame")

	// 服务相关错误
	ErrInvalidConfig = errors.New(4031, "socket: invalid config")
	ErrServerClosed  = errors.New(4032, "socket: server closed")

	// ErrBrokerUnavailable 跨进程消息代理不可用
	ErrBrokerUnavailable = adapter.ErrBrokerUnavailable
)
