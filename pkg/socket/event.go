package socket

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/qio/pkg/logger"
)

// EventType 生命周期事件类型
type EventType string

const (
	// EventClientConnected 连接建立（握手回调成功之后）
	EventClientConnected EventType = "client.connected"
	// EventClientDisconnected 连接断开
	EventClientDisconnected EventType = "client.disconnected"
	// EventRoomJoined 加入房间
	EventRoomJoined EventType = "room.joined"
	// EventRoomLeft 离开房间
	EventRoomLeft EventType = "room.left"
	// EventBrokerMessage 收到其他节点的消息
	EventBrokerMessage EventType = "broker.message"
)

// Event 生命周期事件
type Event struct {
	Type   EventType
	ConnID string
	Room   string
	Data   any
	Time   time.Time
}

// key 分片键：同一连接的事件按发布顺序处理，broker 消息按房间
func (e Event) key() string {
	if e.ConnID != "" {
		return e.ConnID
	}
	return e.Room
}

// critical 连接建立与断开驱动连接数统计，队列满时短暂等待而不是立即丢弃
func (e Event) critical() bool {
	return e.Type == EventClientConnected || e.Type == EventClientDisconnected
}

// EventHandler 事件处理器
type EventHandler func(Event)

// delivery 入队的事件及发布时的订阅者快照
type delivery struct {
	event    Event
	handlers []EventHandler
}

// EventBus 异步事件总线
// 事件按 key 分到固定 worker，同一连接的 connected/joined/left/disconnected 不会乱序；
// Close 停止接收并处理完已入队的事件
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
	closed   bool

	shards []chan delivery
	wait   time.Duration
	wg     sync.WaitGroup
	log    logger.Logger

	dropMu  sync.Mutex
	dropped map[EventType]*atomic.Int64
}

// NewEventBus 创建事件总线，每个 worker 独占一个长度为 queueSize 的队列
func NewEventBus(workers, queueSize int, l logger.Logger) *EventBus {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if l == nil {
		l = logger.Nop()
	}
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		shards:   make([]chan delivery, workers),
		wait:     100 * time.Millisecond,
		log:      l,
		dropped:  make(map[EventType]*atomic.Int64),
	}
	for i := range eb.shards {
		eb.shards[i] = make(chan delivery, queueSize)
		eb.wg.Add(1)
		go eb.worker(eb.shards[i])
	}
	return eb
}

func (eb *EventBus) worker(queue <-chan delivery) {
	defer eb.wg.Done()
	for d := range queue {
		for _, h := range d.handlers {
			eb.run(h, d.event)
		}
	}
}

func (eb *EventBus) run(h EventHandler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.log.Error("event handler panic",
				zap.String("type", string(e.Type)),
				zap.String("conn_id", e.ConnID),
				zap.Any("panic", r),
			)
		}
	}()
	h(e)
}

// Subscribe 订阅事件，对之后发布的事件生效
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 异步发布事件，没有订阅者的类型直接忽略
func (eb *EventBus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	handlers := eb.handlers[event.Type]
	if eb.closed || len(handlers) == 0 {
		return
	}

	d := delivery{event: event, handlers: handlers}
	queue := eb.shards[hashOf(event.key())%uint32(len(eb.shards))]
	select {
	case queue <- d:
		return
	default:
	}
	if event.critical() {
		timer := time.NewTimer(eb.wait)
		defer timer.Stop()
		select {
		case queue <- d:
			return
		case <-timer.C:
		}
	}
	eb.drop(event.Type)
}

func (eb *EventBus) drop(t EventType) {
	eb.dropMu.Lock()
	n, ok := eb.dropped[t]
	if !ok {
		n = new(atomic.Int64)
		eb.dropped[t] = n
	}
	eb.dropMu.Unlock()
	n.Add(1)
}

// Close 停止接收事件，等待已入队的事件处理完毕，可重复调用
func (eb *EventBus) Close() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	for _, q := range eb.shards {
		close(q)
	}
	eb.mu.Unlock()
	eb.wg.Wait()
}

// DroppedEvents 因队列已满丢弃的事件数，不传类型时返回总数
func (eb *EventBus) DroppedEvents(types ...EventType) int64 {
	eb.dropMu.Lock()
	defer eb.dropMu.Unlock()

	var total int64
	if len(types) == 0 {
		for _, n := range eb.dropped {
			total += n.Load()
		}
		return total
	}
	for _, t := range types {
		if n, ok := eb.dropped[t]; ok {
			total += n.Load()
		}
	}
	return total
}
