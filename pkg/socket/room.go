package socket

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
)

// stripeCount 锁分段数
const stripeCount = 32

// Membership 一次加入或离开的结果
type Membership struct {
	Room    string
	Changed bool // 成员关系是否发生变化
	Members int  // 操作后房间的本地成员数
}

type roomStripe struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room -> 成员
}

type connStripe struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{} // connID -> 所在房间
}

// RoomTable 房间表，维护 room -> 成员 与 连接 -> 房间 两个方向的映射
// 加锁顺序固定为先连接分段再房间分段
type RoomTable struct {
	roomStripes [stripeCount]roomStripe
	connStripes [stripeCount]connStripe
	roomCount   atomic.Int64
	maxRoomSize int
	known       func(id string) bool
}

// NewRoomTable 创建房间表
// maxRoomSize 为单个房间的本地成员上限，0 表示不限；known 用于校验连接是否已注册，可为 nil
func NewRoomTable(maxRoomSize int, known func(id string) bool) *RoomTable {
	t := &RoomTable{
		maxRoomSize: maxRoomSize,
		known:       known,
	}
	for i := range t.roomStripes {
		t.roomStripes[i].rooms = make(map[string]map[string]struct{})
		t.connStripes[i].conns = make(map[string]map[string]struct{})
	}
	return t
}

func hashOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

func stripeOf(key string) int {
	return int(hashOf(key) % stripeCount)
}

func (t *RoomTable) roomStripe(room string) *roomStripe {
	return &t.roomStripes[stripeOf(room)]
}

func (t *RoomTable) connStripe(id string) *connStripe {
	return &t.connStripes[stripeOf(id)]
}

// Join 加入房间，重复加入为空操作
func (t *RoomTable) Join(id, room string) (Membership, error) {
	cs := t.connStripe(id)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if t.known != nil && !t.known(id) {
		return Membership{Room: room}, ErrUnknownConnection
	}

	rs := t.roomStripe(room)
	rooms := cs.conns[id]
	if _, ok := rooms[room]; ok {
		rs.mu.RLock()
		n := len(rs.rooms[room])
		rs.mu.RUnlock()
		return Membership{Room: room, Members: n}, nil
	}

	rs.mu.Lock()
	members := rs.rooms[room]
	if t.maxRoomSize > 0 && len(members) >= t.maxRoomSize {
		n := len(members)
		rs.mu.Unlock()
		return Membership{Room: room, Members: n}, ErrRoomFull
	}
	if members == nil {
		members = make(map[string]struct{})
		rs.rooms[room] = members
		t.roomCount.Add(1)
	}
	members[id] = struct{}{}
	n := len(members)
	rs.mu.Unlock()

	if rooms == nil {
		rooms = make(map[string]struct{})
		cs.conns[id] = rooms
	}
	rooms[room] = struct{}{}

	return Membership{Room: room, Changed: true, Members: n}, nil
}

// Leave 离开房间，不在房间时为空操作；房间变空时删除
func (t *RoomTable) Leave(id, room string) (Membership, error) {
	cs := t.connStripe(id)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if t.known != nil && !t.known(id) {
		return Membership{Room: room}, ErrUnknownConnection
	}

	if _, ok := cs.conns[id][room]; !ok {
		rs := t.roomStripe(room)
		rs.mu.RLock()
		n := len(rs.rooms[room])
		rs.mu.RUnlock()
		return Membership{Room: room, Members: n}, nil
	}

	n := t.removeLocked(cs, id, room)
	return Membership{Room: room, Changed: true, Members: n}, nil
}

// LeaveAll 将连接移出所有房间，用于断开连接，不校验连接是否已注册
func (t *RoomTable) LeaveAll(id string) []Membership {
	cs := t.connStripe(id)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	rooms := cs.conns[id]
	if len(rooms) == 0 {
		delete(cs.conns, id)
		return nil
	}

	// 先收集房间名，避免在遍历时修改
	names := make([]string, 0, len(rooms))
	for room := range rooms {
		names = append(names, room)
	}
	sort.Strings(names)

	left := make([]Membership, 0, len(names))
	for _, room := range names {
		n := t.removeLocked(cs, id, room)
		left = append(left, Membership{Room: room, Changed: true, Members: n})
	}
	return left
}

// removeLocked 调用方必须持有 cs 写锁，返回房间剩余成员数
func (t *RoomTable) removeLocked(cs *connStripe, id, room string) int {
	rs := t.roomStripe(room)
	rs.mu.Lock()
	members := rs.rooms[room]
	delete(members, id)
	n := len(members)
	if members != nil && n == 0 {
		delete(rs.rooms, room)
		t.roomCount.Add(-1)
	}
	rs.mu.Unlock()

	rooms := cs.conns[id]
	delete(rooms, room)
	if len(rooms) == 0 {
		delete(cs.conns, id)
	}
	return n
}

// Members 房间的本地成员（快照）
func (t *RoomTable) Members(room string) []string {
	rs := t.roomStripe(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	members := rs.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// Size 房间的本地成员数
func (t *RoomTable) Size(room string) int {
	rs := t.roomStripe(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rooms[room])
}

// Contains 连接是否在房间中
func (t *RoomTable) Contains(id, room string) bool {
	cs := t.connStripe(id)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	_, ok := cs.conns[id][room]
	return ok
}

// RoomsOf 连接所在的房间（按名称排序）
func (t *RoomTable) RoomsOf(id string) []string {
	cs := t.connStripe(id)
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	rooms := cs.conns[id]
	names := make([]string, 0, len(rooms))
	for room := range rooms {
		names = append(names, room)
	}
	sort.Strings(names)
	return names
}

// Rooms 所有非空的本地房间（按名称排序）
func (t *RoomTable) Rooms() []string {
	names := make([]string, 0, t.Count())
	for i := range t.roomStripes {
		rs := &t.roomStripes[i]
		rs.mu.RLock()
		for room := range rs.rooms {
			names = append(names, room)
		}
		rs.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

// Count 本地房间数
func (t *RoomTable) Count() int {
	return int(t.roomCount.Load())
}
