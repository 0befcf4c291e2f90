package socket

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/qio/pkg/adapter"
	"github.com/tokmz/qio/pkg/errors"
	"github.com/tokmz/qio/pkg/logger"
)

// ConnectionHandler 连接建立回调，在分发任何帧之前执行一次
// 返回错误时拒绝该连接
type ConnectionHandler func(s *Socket) error

// Server 实时事件服务
type Server struct {
	// 核心组件
	registry   *Registry
	rooms      *RoomTable
	dispatcher *Dispatcher
	emitter    *Emitter
	events     *EventBus
	cluster    *cluster

	// 配置
	config   *Config
	upgrader *websocket.Upgrader

	sockets sync.Map // connID -> *Socket

	mu           sync.RWMutex
	onConnection ConnectionHandler

	// 生命周期
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	// 监控
	metrics Metrics
	log     logger.Logger
}

// NewServer 创建服务
func NewServer(opts ...Option) (*Server, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	registry := NewRegistry(config.MaxConnections)
	rooms := NewRoomTable(config.MaxRoomSize, registry.Contains)

	s := &Server{
		registry:   registry,
		rooms:      rooms,
		dispatcher: NewDispatcher(),
		emitter:    NewEmitter(registry, rooms, config.Metrics, config.FanoutThreshold, config.FanoutWorkers),
		events:     NewEventBus(config.EventWorkers, config.EventQueueSize, config.Logger.Named("events")),
		config:     config,
		upgrader:   newUpgrader(config),
		ctx:        ctx,
		cancel:     cancel,
		metrics:    config.Metrics,
		log:        config.Logger.Named("socket"),
	}

	if config.Adapter != nil {
		s.log = s.log.With(zap.String("node", config.Adapter.Node()))
		s.cluster = newCluster(s, config.Adapter)
	}

	s.setupEventHandlers()
	return s, nil
}

// OnConnection 设置连接建立回调
func (s *Server) OnConnection(fn ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnection = fn
}

// Use 添加全局中间件
func (s *Server) Use(middleware ...Middleware) {
	s.dispatcher.Use(middleware...)
}

// Subscribe 订阅生命周期事件
func (s *Server) Subscribe(eventType EventType, handler EventHandler) {
	s.events.Subscribe(eventType, handler)
}

// Start 启动跨进程订阅，未配置适配器时为空操作；重复调用返回 nil
// ctx 取消不会关闭适配器，适配器在 Shutdown 发布最终离开通告后关闭
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if s.cluster == nil {
		s.log.Info("server started", zap.String("mode", "standalone"))
		return nil
	}
	if err := s.cluster.start(ctx); err != nil {
		return err
	}
	s.log.Info("server started",
		zap.String("mode", "cluster"),
		zap.String("driver", s.cluster.adapter.Driver()),
		zap.String("channel", s.cluster.adapter.Channel()),
	)
	return nil
}

// Node 本节点 ID，单进程模式下为空
func (s *Server) Node() string {
	if s.cluster == nil {
		return ""
	}
	return s.cluster.adapter.Node()
}

// HandleUpgrade 处理 WebSocket 升级，连接在独立协程中运行
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	if s.closed.Load() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return ErrServerClosed
	}
	// 连接数已满时在升级前拒绝
	if max := s.config.MaxConnections; max > 0 && s.registry.Count() >= max {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return ErrTooManyConnections
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	wc := newWSConn(conn, s.config, s.metrics)
	sock, err := s.accept(wc, r)
	if err != nil {
		code := websocket.ClosePolicyViolation
		if errors.Is(err, ErrTooManyConnections) || errors.Is(err, ErrServerClosed) {
			code = websocket.CloseTryAgainLater
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, err.Error()),
			time.Now().Add(s.config.WriteWait))
		_ = conn.Close()
		return err
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		wc.writePump()
	}()
	go func() {
		defer s.wg.Done()
		if err := sock.Serve(wc); err != nil {
			sock.log.Debug("read loop ended", zap.Error(err))
		}
	}()
	return nil
}

// Accept 接入任意传输层的连接，调用方随后需运行 Socket.Serve
func (s *Server) Accept(sink Sink) (*Socket, error) {
	return s.accept(sink, nil)
}

func (s *Server) accept(sink Sink, req *http.Request) (*Socket, error) {
	if s.closed.Load() {
		return nil, ErrServerClosed
	}

	conn, err := s.registry.Register(sink)
	if err != nil {
		s.log.Warn("connection rejected", zap.Error(err))
		return nil, err
	}
	s.dispatcher.Open(conn.ID())

	sock := newSocket(s, conn, req)
	s.sockets.Store(conn.ID(), sock)
	// Shutdown 可能已遍历过 sockets
	if s.closed.Load() {
		sock.teardown("server shutdown")
		return nil, ErrServerClosed
	}

	s.mu.RLock()
	setup := s.onConnection
	s.mu.RUnlock()

	if setup != nil {
		if err := runSetup(setup, sock); err != nil {
			sock.teardown("setup rejected")
			sock.log.Info("connection rejected by setup", zap.Error(err))
			return nil, err
		}
	}

	sock.accepted.Store(true)
	s.events.Publish(Event{Type: EventClientConnected, ConnID: conn.ID()})
	sock.log.Debug("connection accepted")
	return sock, nil
}

// runSetup 执行连接回调，panic 视为拒绝
func runSetup(fn ConnectionHandler, sock *Socket) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrHandlerFailure.WithError(fmt.Errorf("connection setup panic: %v", r))
		}
	}()
	return fn(sock)
}

// Socket 获取本地连接
func (s *Server) Socket(id string) (*Socket, bool) {
	value, ok := s.sockets.Load(id)
	if !ok {
		return nil, false
	}
	sock, ok := value.(*Socket)
	return sock, ok
}

// ConnectionCount 本地连接数
func (s *Server) ConnectionCount() int {
	return s.registry.Count()
}

// EmitToConn 向连接发送事件，连接不在本地时转发给其他节点
func (s *Server) EmitToConn(id, event string, v any) error {
	data, err := marshalPayload(v)
	if err != nil {
		return err
	}
	if s.registry.Contains(id) || s.cluster == nil {
		return s.emitter.EmitToConn(id, event, data)
	}
	return s.cluster.publishEmitToConn(id, event, data)
}

// BroadcastToRoom 向房间的所有成员发送事件，exclude 非空时跳过该连接
// 先投递本地成员再发布给其他节点，返回本地成功数；本地失败与发布失败合并返回
func (s *Server) BroadcastToRoom(room, event string, v any, exclude string) (int, error) {
	if event == "" {
		return 0, ErrInvalidFrame.WithMessage("socket: empty event name")
	}
	data, err := marshalPayload(v)
	if err != nil {
		return 0, err
	}

	delivered, localErr := s.emitter.EmitToRoom(room, event, data, exclude)
	if localErr != nil {
		s.log.Warn("room delivery incomplete",
			zap.String("room", room),
			zap.String("event", event),
			zap.Int("delivered", delivered),
			zap.Error(localErr),
		)
	}

	var publishErr error
	if s.cluster != nil {
		publishErr = s.cluster.publishEmitToRoom(room, event, data, exclude)
	}
	return delivered, errors.Join(localErr, publishErr)
}

func (s *Server) join(id, room string) error {
	m, err := s.rooms.Join(id, room)
	if err != nil {
		return err
	}
	if m.Changed {
		s.afterMembership(EventRoomJoined, id, m)
	}
	return nil
}

func (s *Server) leave(id, room string) error {
	m, err := s.rooms.Leave(id, room)
	if err != nil {
		return err
	}
	if m.Changed {
		s.afterMembership(EventRoomLeft, id, m)
	}
	return nil
}

// afterMembership 成员关系变化后的通知与跨进程同步
func (s *Server) afterMembership(eventType EventType, id string, m Membership) {
	s.events.Publish(Event{
		Type:   eventType,
		ConnID: id,
		Room:   m.Room,
		Data:   m.Members,
	})
	if s.cluster != nil {
		kind := adapter.KindJoin
		if eventType == EventRoomLeft {
			kind = adapter.KindLeave
		}
		_ = s.cluster.publishMembership(kind, m.Room)
	}
}

// LocalRooms 本节点的非空房间
func (s *Server) LocalRooms() []string {
	return s.rooms.Rooms()
}

// Rooms 集群内所有非空房间：本地房间与其他节点通告的房间合并
func (s *Server) Rooms() []string {
	local := s.rooms.Rooms()
	if s.cluster == nil {
		return local
	}

	set := make(map[string]struct{}, len(local))
	for _, room := range local {
		set[room] = struct{}{}
	}
	for _, room := range s.cluster.remoteRooms() {
		set[room] = struct{}{}
	}

	rooms := make([]string, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Members 房间的本地成员
func (s *Server) Members(room string) []string {
	return s.rooms.Members(room)
}

// RoomSize 房间在集群内的成员数（本地精确值加其他节点最近通告的值）
func (s *Server) RoomSize(room string) int {
	n := s.rooms.Size(room)
	if s.cluster != nil {
		n += s.cluster.remoteSize(room)
	}
	return n
}

// Shutdown 优雅关闭：断开全部连接，发布最终离开消息，关闭适配器
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.log.Info("server shutting down", zap.Int("connections", s.registry.Count()))

	// 并发断开所有连接
	var g errgroup.Group
	g.SetLimit(s.config.FanoutWorkers)
	s.sockets.Range(func(_, value any) bool {
		if sock, ok := value.(*Socket); ok {
			g.Go(func() error {
				sock.teardown("server shutdown")
				return nil
			})
		}
		return true
	})
	_ = g.Wait()

	// 等待读写协程退出
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if s.cluster != nil {
		if cerr := s.cluster.close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}

	s.events.Close()
	s.cancel()
	s.log.Info("server stopped")
	return err
}

// setupEventHandlers 设置内置事件处理器
func (s *Server) setupEventHandlers() {
	s.events.Subscribe(EventClientConnected, func(e Event) {
		s.metrics.IncrementConnections()
		s.metrics.SetConnectionCount(s.registry.Count())
	})

	s.events.Subscribe(EventClientDisconnected, func(e Event) {
		s.metrics.DecrementConnections()
		s.metrics.SetConnectionCount(s.registry.Count())
	})

	roomCount := func(Event) {
		s.metrics.SetRoomCount(s.rooms.Count())
	}
	s.events.Subscribe(EventRoomJoined, roomCount)
	s.events.Subscribe(EventRoomLeft, roomCount)
}
