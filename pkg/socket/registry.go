package socket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sink 连接的出站通道
type Sink interface {
	// WriteFrame 写入一帧，不得阻塞；连接已关闭时返回 ErrConnectionGone
	WriteFrame(frame []byte) error
	// Close 关闭底层连接，可重复调用
	Close() error
}

// Conn 已注册的连接
type Conn struct {
	id        string
	sink      Sink
	closed    atomic.Bool
	createdAt time.Time
}

// ID 连接标识
func (c *Conn) ID() string {
	return c.id
}

// CreatedAt 注册时间
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// Send 写入一帧
func (c *Conn) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrConnectionGone
	}
	return c.sink.WriteFrame(frame)
}

// IsClosed 检查是否已关闭
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// close 关闭出站通道
func (c *Conn) close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.sink.Close()
}

// Registry 连接注册表
type Registry struct {
	conns    sync.Map     // connID -> *Conn
	count    atomic.Int64 // 连接数
	maxConns int          // 最大连接数，0 表示不限
}

// NewRegistry 创建连接注册表
func NewRegistry(maxConns int) *Registry {
	return &Registry{
		maxConns: maxConns,
	}
}

// Register 为 sink 分配新的连接标识并注册
func (r *Registry) Register(sink Sink) (*Conn, error) {
	// 先递增计数并检查限制
	newCount := r.count.Add(1)
	if r.maxConns > 0 && int(newCount) > r.maxConns {
		r.count.Add(-1)
		return nil, ErrTooManyConnections
	}

	conn := &Conn{
		id:        uuid.NewString(),
		sink:      sink,
		createdAt: time.Now(),
	}
	r.conns.Store(conn.id, conn)
	return conn, nil
}

// Unregister 注销连接，不存在时静默返回
func (r *Registry) Unregister(id string) (*Conn, bool) {
	value, loaded := r.conns.LoadAndDelete(id)
	if !loaded {
		return nil, false
	}
	r.count.Add(-1)
	conn, ok := value.(*Conn)
	return conn, ok
}

// Lookup 查找连接
func (r *Registry) Lookup(id string) (*Conn, bool) {
	value, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	conn, ok := value.(*Conn)
	if !ok {
		return nil, false
	}
	return conn, true
}

// Contains 连接是否已注册
func (r *Registry) Contains(id string) bool {
	_, ok := r.conns.Load(id)
	return ok
}

// Count 获取连接数
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// Range 遍历所有连接
func (r *Registry) Range(f func(*Conn) bool) {
	r.conns.Range(func(_, value any) bool {
		conn, ok := value.(*Conn)
		if !ok {
			return true
		}
		return f(conn)
	})
}
