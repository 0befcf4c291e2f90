package socket

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
)

// Handler 事件处理器
type Handler func(s *Socket, data json.RawMessage) error

// NextFunc 中间件下一步函数
type NextFunc func() error

// Middleware 全局中间件，包裹每一次事件处理
type Middleware func(s *Socket, event string, data json.RawMessage, next NextFunc) error

// handlerTable 单个连接的事件表
type handlerTable struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// Dispatcher 事件分发器
// 每个连接一张事件表，同一连接内按读循环顺序分发，不同连接并行
type Dispatcher struct {
	tables sync.Map // connID -> *handlerTable

	mu         sync.RWMutex
	middleware []Middleware
}

// NewDispatcher 创建分发器
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Use 添加全局中间件，按添加顺序由外向内执行
func (d *Dispatcher) Use(middleware ...Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, middleware...)
}

// Open 为连接创建空事件表
func (d *Dispatcher) Open(id string) {
	d.tables.LoadOrStore(id, &handlerTable{handlers: make(map[string]Handler)})
}

// Remove 删除连接的全部事件绑定
func (d *Dispatcher) Remove(id string) {
	d.tables.Delete(id)
}

func (d *Dispatcher) table(id string) (*handlerTable, bool) {
	value, ok := d.tables.Load(id)
	if !ok {
		return nil, false
	}
	t, ok := value.(*handlerTable)
	return t, ok
}

// On 注册事件处理器，同名事件后注册的覆盖先注册的
func (d *Dispatcher) On(id, event string, h Handler) error {
	if h == nil {
		return ErrHandlerFailure.WithMessage("socket: nil handler for event " + event)
	}
	t, ok := d.table(id)
	if !ok {
		return ErrUnknownConnection
	}
	t.mu.Lock()
	t.handlers[event] = h
	t.mu.Unlock()
	return nil
}

// Off 移除事件处理器
func (d *Dispatcher) Off(id, event string) {
	t, ok := d.table(id)
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.handlers, event)
	t.mu.Unlock()
}

// Handles 连接是否注册了该事件
func (d *Dispatcher) Handles(id, event string) bool {
	_, ok := d.lookup(id, event)
	return ok
}

func (d *Dispatcher) lookup(id, event string) (Handler, bool) {
	t, ok := d.table(id)
	if !ok {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[event]
	return h, ok
}

// Dispatch 分发事件
// 未注册的事件静默丢弃并返回 nil；处理器返回的错误与 panic 包装为 ErrHandlerFailure
func (d *Dispatcher) Dispatch(s *Socket, event string, data json.RawMessage) (err error) {
	h, ok := d.lookup(s.ID(), event)
	if !ok {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = ErrHandlerFailure.WithError(fmt.Errorf("event %q: panic: %v\n%s", event, r, debug.Stack()))
		}
	}()

	if err := d.chain(h)(s, event, data); err != nil {
		return ErrHandlerFailure.WithError(fmt.Errorf("event %q: %w", event, err))
	}
	return nil
}

// chain 从后向前构建中间件链
func (d *Dispatcher) chain(h Handler) func(*Socket, string, json.RawMessage) error {
	d.mu.RLock()
	middleware := d.middleware
	d.mu.RUnlock()

	final := func(s *Socket, _ string, data json.RawMessage) error {
		return h(s, data)
	}
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := final
		final = func(s *Socket, event string, data json.RawMessage) error {
			return mw(s, event, data, func() error {
				return next(s, event, data)
			})
		}
	}
	return final
}

// Handle 将强类型处理器适配为 Handler，事件数据按 JSON 解码到 T
func Handle[T any](fn func(s *Socket, v T) error) Handler {
	return func(s *Socket, data json.RawMessage) error {
		var v T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("decode %T: %w", v, err)
			}
		}
		return fn(s, v)
	}
}
