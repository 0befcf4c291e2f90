package socket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tokmz/qio/pkg/errors"
	"github.com/tokmz/qio/pkg/logger"
)

// Socket 单个连接的应用接口
type Socket struct {
	conn    *Conn
	server  *Server
	request *http.Request
	log     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	accepted  atomic.Bool
	closeOnce sync.Once
	values    sync.Map
}

func newSocket(s *Server, conn *Conn, req *http.Request) *Socket {
	ctx, cancel := context.WithCancel(s.ctx)
	ctx = logger.WithConnID(ctx, conn.ID())
	return &Socket{
		conn:    conn,
		server:  s,
		request: req,
		log:     s.log.With(zap.String("conn_id", conn.ID())),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID 连接标识
func (s *Socket) ID() string {
	return s.conn.ID()
}

// Context 连接的上下文，断开时取消，携带 conn_id 日志字段
func (s *Socket) Context() context.Context {
	return s.ctx
}

// Request 握手请求，非 WebSocket 接入时为 nil
func (s *Socket) Request() *http.Request {
	return s.request
}

// Connected 连接是否仍然有效
func (s *Socket) Connected() bool {
	return !s.conn.IsClosed()
}

// Get 获取连接元数据
func (s *Socket) Get(key string) (any, bool) {
	return s.values.Load(key)
}

// Set 设置连接元数据
func (s *Socket) Set(key string, value any) {
	s.values.Store(key, value)
}

// On 注册事件处理器，同名事件后注册的覆盖先注册的
func (s *Socket) On(event string, h Handler) error {
	return s.server.dispatcher.On(s.ID(), event, h)
}

// Off 移除事件处理器
func (s *Socket) Off(event string) {
	s.server.dispatcher.Off(s.ID(), event)
}

// Emit 向本连接发送事件
func (s *Socket) Emit(event string, v any) error {
	data, err := marshalPayload(v)
	if err != nil {
		return err
	}
	return s.server.emitter.EmitToConn(s.ID(), event, data)
}

// EmitTo 向房间的所有成员发送事件，包括自己
func (s *Socket) EmitTo(room, event string, v any) error {
	_, err := s.server.BroadcastToRoom(room, event, v, "")
	return err
}

// BroadcastTo 向房间的其他成员发送事件，不包括自己
func (s *Socket) BroadcastTo(room, event string, v any) error {
	_, err := s.server.BroadcastToRoom(room, event, v, s.ID())
	return err
}

// Join 加入房间
func (s *Socket) Join(room string) error {
	return s.server.join(s.ID(), room)
}

// Leave 离开房间
func (s *Socket) Leave(room string) error {
	return s.server.leave(s.ID(), room)
}

// Rooms 所在的房间（按名称排序）
func (s *Socket) Rooms() []string {
	return s.server.rooms.RoomsOf(s.ID())
}

// Disconnect 由服务端断开连接
func (s *Socket) Disconnect() error {
	s.teardown("server disconnect")
	return nil
}

// Serve 读循环：逐帧解码并分发，返回前完成连接清理
// 对端正常关闭或服务端主动断开时返回 nil
func (s *Socket) Serve(r FrameReader) error {
	err := s.serve(r)
	reason := "client closed"
	if err != nil {
		reason = err.Error()
	}
	s.teardown(reason)
	return err
}

func (s *Socket) serve(r FrameReader) error {
	srv := s.server
	invalid := 0

	for {
		data, err := r.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || s.conn.IsClosed() {
				return nil
			}
			return err
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			invalid++
			srv.metrics.IncrementInvalidFrames()
			s.log.Debug("invalid frame", zap.Error(err), zap.Int("count", invalid))
			if invalid > srv.config.MaxInvalidFrames {
				return ErrInvalidFrame.WithMessage(fmt.Sprintf("socket: %d consecutive invalid frames", invalid))
			}
			continue
		}
		invalid = 0

		srv.metrics.IncrementFramesReceived(frame.Event)
		if err := srv.dispatcher.Dispatch(s, frame.Event, frame.Data); err != nil {
			srv.metrics.IncrementHandlerFailures(frame.Event)
			s.log.Error("event handler failed", zap.String("event", frame.Event), zap.Error(err))
		}
	}
}

// teardown 注销连接、离开全部房间、删除事件绑定，只执行一次
func (s *Socket) teardown(reason string) {
	s.closeOnce.Do(func() {
		srv := s.server
		id := s.ID()

		srv.registry.Unregister(id)
		left := srv.rooms.LeaveAll(id)
		srv.dispatcher.Remove(id)
		srv.sockets.Delete(id)
		_ = s.conn.close()
		s.cancel()

		for _, m := range left {
			srv.afterMembership(EventRoomLeft, id, m)
		}

		if s.accepted.Load() {
			srv.events.Publish(Event{
				Type:   EventClientDisconnected,
				ConnID: id,
				Data:   reason,
			})
		}
		s.log.Debug("connection closed", zap.String("reason", reason), zap.Int("rooms", len(left)))
	})
}
