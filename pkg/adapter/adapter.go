package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/tokmz/qio/pkg/logger"
)

// Handler 入站消息回调，在单个消费协程中按到达顺序调用
type Handler func(*Message)

// Stats 适配器计数
type Stats struct {
	Published   int64 // 发布成功
	PublishErrs int64 // 发布失败
	Received    int64 // 收到（解码成功）
	OwnDropped  int64 // 丢弃的本节点消息
	Duplicates  int64 // 丢弃的重放消息
	Invalid     int64 // 无法解码的消息
	Reconnects  int64 // 订阅重建次数
}

// Adapter 跨进程消息适配器
type Adapter struct {
	transport Transport
	opts      *Options
	log       logger.Logger
	dedup     *dedup

	handler   atomic.Pointer[Handler]
	onConnect atomic.Pointer[func()]
	queue     chan *Message

	connected atomic.Bool
	started   atomic.Bool
	closed    atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	published   atomic.Int64
	publishErrs atomic.Int64
	received    atomic.Int64
	ownDropped  atomic.Int64
	duplicates  atomic.Int64
	invalid     atomic.Int64
	reconnects  atomic.Int64
}

// New 创建适配器，需调用 Start 开始订阅
func New(transport Transport, opts ...Option) (*Adapter, error) {
	if transport == nil {
		return nil, ErrInvalidConfig.WithMessage("adapter: transport is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		transport: transport,
		opts:      o,
		log: o.Logger.Named("adapter").With(
			zap.String("node", o.Node),
			zap.String("driver", transport.Name()),
		),
		dedup:  newDedup(o.DedupCapacity, 0.001, o.DedupTTL),
		queue:  make(chan *Message, o.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Node 本节点 ID
func (a *Adapter) Node() string {
	return a.opts.Node
}

// Channel 订阅与发布的频道名
func (a *Adapter) Channel() string {
	return a.opts.Namespace
}

// Driver 传输层名称
func (a *Adapter) Driver() string {
	return a.transport.Name()
}

// Connected 订阅是否已建立
func (a *Adapter) Connected() bool {
	return a.connected.Load()
}

// OnMessage 注册入站消息回调，后注册的覆盖先注册的
func (a *Adapter) OnMessage(h Handler) {
	a.handler.Store(&h)
}

// OnConnect 注册订阅建立（含重连）后的回调，在独立协程中执行
func (a *Adapter) OnConnect(fn func()) {
	a.onConnect.Store(&fn)
}

// Start 启动订阅循环与消费协程，ctx 取消等同于 Close
func (a *Adapter) Start(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.consume()
	}()
	go func() {
		defer a.wg.Done()
		a.subscribeLoop()
	}()

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = a.Close()
			case <-a.ctx.Done():
			}
		}()
	}

	a.log.Info("adapter started", zap.String("channel", a.Channel()))
	return nil
}

// Publish 发布消息，未设置的 ID 与 Origin 会被补全
// 订阅未建立或发布失败时返回 ErrBrokerUnavailable
func (a *Adapter) Publish(ctx context.Context, msg *Message) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if msg.ID == "" {
		msg.ID = NewMessage(msg.Kind).ID
	}
	if msg.Origin == "" {
		msg.Origin = a.opts.Node
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if !a.connected.Load() {
		a.publishErrs.Add(1)
		return ErrBrokerUnavailable.WithMessage("adapter: broker unavailable: not subscribed")
	}

	data, err := encode(msg)
	if err != nil {
		return ErrInvalidMessage.WithError(err)
	}

	if err := a.transport.Publish(ctx, a.Channel(), a.opts.Node, data); err != nil {
		a.publishErrs.Add(1)
		return ErrBrokerUnavailable.WithError(err)
	}
	a.published.Add(1)
	return nil
}

// Stats 返回计数快照
func (a *Adapter) Stats() Stats {
	return Stats{
		Published:   a.published.Load(),
		PublishErrs: a.publishErrs.Load(),
		Received:    a.received.Load(),
		OwnDropped:  a.ownDropped.Load(),
		Duplicates:  a.duplicates.Load(),
		Invalid:     a.invalid.Load(),
		Reconnects:  a.reconnects.Load(),
	}
}

// Close 停止订阅并释放传输层，可重复调用
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.connected.Store(false)
		a.cancel()
		a.wg.Wait()
		err = a.transport.Close()
		a.log.Info("adapter closed")
	})
	return err
}

// subscribeLoop 保持订阅，中断后按指数退避重试
func (a *Adapter) subscribeLoop() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.opts.RetryInitial
	b.MaxInterval = a.opts.RetryMax

	for {
		err := a.transport.Subscribe(a.ctx, a.Channel(), func() {
			a.connected.Store(true)
			b.Reset()
			a.log.Info("subscription established", zap.String("channel", a.Channel()))
			if fn := a.onConnect.Load(); fn != nil && *fn != nil {
				a.wg.Add(1)
				go func() {
					defer a.wg.Done()
					(*fn)()
				}()
			}
		}, a.deliver)
		a.connected.Store(false)

		if a.ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		a.reconnects.Add(1)
		a.log.Warn("subscription lost, retrying",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-a.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// deliver 在传输层接收协程中调用：解码、过滤后入队
func (a *Adapter) deliver(data []byte) {
	msg, err := decode(data)
	if err != nil {
		a.invalid.Add(1)
		a.log.Warn("drop invalid broker message", zap.Error(err))
		return
	}

	if msg.Origin == a.opts.Node {
		a.ownDropped.Add(1)
		return
	}
	if a.dedup.Seen(msg.ID) {
		a.duplicates.Add(1)
		a.log.Debug("drop replayed broker message", zap.String("id", msg.ID))
		return
	}
	a.received.Add(1)

	select {
	case a.queue <- msg:
	case <-a.ctx.Done():
	}
}

// consume 单消费协程，保证回调按入队顺序执行
func (a *Adapter) consume() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg := <-a.queue:
			a.dispatch(msg)
		}
	}
}

func (a *Adapter) dispatch(msg *Message) {
	hp := a.handler.Load()
	if hp == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("broker message handler panic",
				zap.Any("panic", r),
				zap.String("kind", string(msg.Kind)),
				zap.String("room", msg.Room),
			)
		}
	}()
	(*hp)(msg)
}
