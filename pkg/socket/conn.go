package socket

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// FrameReader 入站帧来源
type FrameReader interface {
	// ReadFrame 阻塞读取下一帧；对端正常关闭时返回 io.EOF
	ReadFrame() ([]byte, error)
}

// wsConn 基于 gorilla/websocket 的连接，同时实现 Sink 与 FrameReader
// 读由 Socket.Serve 所在协程完成，写只在 writePump 中进行
type wsConn struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
	metrics Metrics

	writeWait    time.Duration
	pingInterval time.Duration
	pongWait     time.Duration
}

func newWSConn(conn *websocket.Conn, cfg *Config, metrics Metrics) *wsConn {
	c := &wsConn{
		conn:         conn,
		send:         make(chan []byte, cfg.SendQueueSize),
		done:         make(chan struct{}),
		metrics:      metrics,
		writeWait:    cfg.WriteWait,
		pingInterval: cfg.HeartbeatInterval,
		pongWait:     cfg.HeartbeatTimeout,
	}

	conn.SetReadLimit(cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	return c
}

// WriteFrame 非阻塞入队
func (c *wsConn) WriteFrame(frame []byte) error {
	if c.closed.Load() {
		return ErrConnectionGone
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionGone
	default:
		return ErrSendQueueFull
	}
}

// ReadFrame 读取一条文本或二进制消息
func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.closed.Load() || websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Close 通知 writePump 发送关闭帧并关闭底层连接
func (c *wsConn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

// writePump 写协程，同时负责心跳
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		// 关闭底层连接使读协程退出
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.drain()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.metrics.IncrementWriteErrors()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.metrics.IncrementWriteErrors()
				return
			}
		}
	}
}

// drain 关闭前尽量写出已入队的帧
func (c *wsConn) drain() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// RemoteAddr 对端地址
func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
