package adapter

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultHub 进程内默认消息中心，供 memory 驱动使用
var DefaultHub = NewMemoryHub()

// MemoryHub 进程内消息中心，同一进程中的多个 Transport 通过它互相通信
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySub]struct{} // channel -> 订阅者
	down atomic.Bool
}

type memorySub struct {
	ch   chan []byte
	lost chan struct{}
	once sync.Once
}

func (s *memorySub) drop() {
	s.once.Do(func() { close(s.lost) })
}

// NewMemoryHub 创建消息中心
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[string]map[*memorySub]struct{}),
	}
}

// SetDown 模拟代理故障：发布失败且现有订阅全部中断
func (h *MemoryHub) SetDown(down bool) {
	h.down.Store(down)
	if !down {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel, subs := range h.subs {
		for s := range subs {
			s.drop()
		}
		delete(h.subs, channel)
	}
}

// Subscribers 频道当前订阅者数量
func (h *MemoryHub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Transport 创建挂在该中心上的传输层
func (h *MemoryHub) Transport() Transport {
	return &memoryTransport{hub: h}
}

func (h *MemoryHub) publish(ctx context.Context, channel string, data []byte) error {
	if h.down.Load() {
		return ErrBrokerUnavailable.WithMessage("adapter: memory hub is down")
	}

	h.mu.RLock()
	targets := make([]*memorySub, 0, len(h.subs[channel]))
	for s := range h.subs[channel] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		// 每个订阅者独立拷贝，避免共享底层数组
		buf := append([]byte(nil), data...)
		select {
		case s.ch <- buf:
		case <-s.lost:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *MemoryHub) subscribe(channel string) (*memorySub, error) {
	if h.down.Load() {
		return nil, ErrBrokerUnavailable.WithMessage("adapter: memory hub is down")
	}
	s := &memorySub{
		ch:   make(chan []byte, 256),
		lost: make(chan struct{}),
	}
	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*memorySub]struct{})
	}
	h.subs[channel][s] = struct{}{}
	h.mu.Unlock()
	return s, nil
}

func (h *MemoryHub) unsubscribe(channel string, s *memorySub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[channel]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.subs, channel)
		}
	}
	s.drop()
}

// memoryTransport 进程内传输层
type memoryTransport struct {
	hub    *MemoryHub
	closed atomic.Bool
}

func (t *memoryTransport) Name() string { return "memory" }

func (t *memoryTransport) Publish(ctx context.Context, channel, _ string, data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return t.hub.publish(ctx, channel, data)
}

func (t *memoryTransport) Subscribe(ctx context.Context, channel string, ready func(), deliver func([]byte)) error {
	if t.closed.Load() {
		return ErrClosed
	}
	s, err := t.hub.subscribe(channel)
	if err != nil {
		return err
	}
	defer t.hub.unsubscribe(channel, s)

	ready()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.lost:
			return ErrSubscriptionLost
		case data := <-s.ch:
			deliver(data)
		}
	}
}

func (t *memoryTransport) Close() error {
	t.closed.Store(true)
	return nil
}
