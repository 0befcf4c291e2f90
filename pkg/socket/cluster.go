package socket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tokmz/qio/pkg/adapter"
	"github.com/tokmz/qio/pkg/errors"
	"github.com/tokmz/qio/pkg/logger"
)

// cluster 通过适配器与其他节点同步房间成员关系并转发投递
type cluster struct {
	server  *Server
	adapter *adapter.Adapter
	log     logger.Logger

	// 同一房间的成员通告串行发布
	publishLocks [stripeCount]sync.Mutex

	mu        sync.RWMutex
	remote    map[string]map[string]int // room -> origin -> members
	announced map[string]int            // room -> 最近一次成功通告的本地成员数
}

func newCluster(s *Server, a *adapter.Adapter) *cluster {
	return &cluster{
		server:    s,
		adapter:   a,
		log:       s.log.Named("cluster"),
		remote:    make(map[string]map[string]int),
		announced: make(map[string]int),
	}
}

// start 启动适配器；适配器只随 close 关闭，不跟随 ctx 取消，
// 以便 Shutdown 时仍能发布离开通告
func (c *cluster) start(ctx context.Context) error {
	c.adapter.OnMessage(c.handle)
	c.adapter.OnConnect(c.resync)
	if err := c.adapter.Start(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, adapter.ErrAlreadyStarted) {
		return err
	}
	return nil
}

func (c *cluster) publish(msg *adapter.Message) error {
	ctx, cancel := context.WithTimeout(c.server.ctx, c.server.config.PublishTimeout)
	defer cancel()

	if err := c.adapter.Publish(ctx, msg); err != nil {
		c.server.metrics.IncrementPublishFailures(string(msg.Kind))
		c.log.Warn("broker publish failed",
			zap.String("kind", string(msg.Kind)),
			zap.String("room", msg.Room),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// publishMembership 以 kind 通告房间当前的本地成员数
// 发布时读取最新值，乱序到达的旧通告会被随后的通告覆盖
func (c *cluster) publishMembership(kind adapter.Kind, room string) error {
	lock := &c.publishLocks[stripeOf(room)]
	lock.Lock()
	defer lock.Unlock()

	members := c.server.rooms.Size(room)
	msg := adapter.NewMessage(kind)
	msg.Room = room
	msg.Members = members
	if err := c.publish(msg); err != nil {
		return err
	}

	c.mu.Lock()
	if members == 0 {
		delete(c.announced, room)
	} else {
		c.announced[room] = members
	}
	c.mu.Unlock()
	return nil
}

// resync 订阅建立后重新通告全部本地房间，并请求其他节点同样处理
func (c *cluster) resync() {
	c.announce()
	if err := c.publish(adapter.NewMessage(adapter.KindSync)); err == nil {
		c.log.Debug("membership sync requested")
	}
}

// announce 通告全部本地房间与断线期间变空的房间
func (c *cluster) announce() {
	set := make(map[string]struct{})
	for _, room := range c.server.rooms.Rooms() {
		set[room] = struct{}{}
	}
	c.mu.RLock()
	for room := range c.announced {
		set[room] = struct{}{}
	}
	c.mu.RUnlock()

	rooms := make([]string, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		kind := adapter.KindJoin
		if c.server.rooms.Size(room) == 0 {
			kind = adapter.KindLeave
		}
		_ = c.publishMembership(kind, room)
	}
	if len(rooms) > 0 {
		c.log.Info("membership announced", zap.Int("rooms", len(rooms)))
	}
}

func (c *cluster) publishEmitToRoom(room, event string, data json.RawMessage, exclude string) error {
	msg := adapter.NewMessage(adapter.KindEmitToRoom)
	msg.Room = room
	msg.Event = event
	msg.Payload = data
	msg.ConnectionID = exclude
	return c.publish(msg)
}

func (c *cluster) publishEmitToConn(id, event string, data json.RawMessage) error {
	msg := adapter.NewMessage(adapter.KindEmitToConnection)
	msg.ConnectionID = id
	msg.Event = event
	msg.Payload = data
	return c.publish(msg)
}

// handle 处理其他节点的消息，只做本地投递，不会再次发布
func (c *cluster) handle(msg *adapter.Message) {
	s := c.server
	s.metrics.IncrementRemoteMessages(string(msg.Kind))
	s.events.Publish(Event{
		Type:   EventBrokerMessage,
		ConnID: msg.ConnectionID,
		Room:   msg.Room,
		Data:   msg,
	})

	switch msg.Kind {
	case adapter.KindJoin, adapter.KindLeave:
		c.setRemote(msg.Room, msg.Origin, msg.Members)

	case adapter.KindSync:
		c.announce()

	case adapter.KindEmitToRoom:
		if _, err := s.emitter.EmitToRoom(msg.Room, msg.Event, msg.Payload, msg.ConnectionID); err != nil {
			c.log.Debug("remote room delivery incomplete",
				zap.String("room", msg.Room),
				zap.String("event", msg.Event),
				zap.Error(err),
			)
		}

	case adapter.KindEmitToConnection:
		// 目标连接不在本节点
		if !s.registry.Contains(msg.ConnectionID) {
			return
		}
		if err := s.emitter.EmitToConn(msg.ConnectionID, msg.Event, msg.Payload); err != nil {
			c.log.Debug("remote connection delivery failed",
				zap.String("conn_id", msg.ConnectionID),
				zap.Error(err),
			)
		}
	}
}

// setRemote 记录其他节点通告的成员数，members 为 0 时删除
func (c *cluster) setRemote(room, origin string, members int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	origins, ok := c.remote[room]
	if members <= 0 {
		if !ok {
			return
		}
		delete(origins, origin)
		if len(origins) == 0 {
			delete(c.remote, room)
		}
		return
	}

	if !ok {
		origins = make(map[string]int)
		c.remote[room] = origins
	}
	origins[origin] = members
}

func (c *cluster) remoteRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.remote))
	for room := range c.remote {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *cluster) remoteSize(room string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, members := range c.remote[room] {
		n += members
	}
	return n
}

// close 对仍有通告记录的房间发布清零，然后关闭适配器
func (c *cluster) close(ctx context.Context) error {
	c.mu.RLock()
	rooms := make([]string, 0, len(c.announced))
	for room := range c.announced {
		rooms = append(rooms, room)
	}
	c.mu.RUnlock()

	var errs []error
	for _, room := range rooms {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		msg := adapter.NewMessage(adapter.KindLeave)
		msg.Room = room
		msg.Members = 0
		if err := c.publish(msg); err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.adapter.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
