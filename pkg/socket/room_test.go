package socket

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/qio/pkg/errors"
)

// assertConsistent 校验两个方向的映射一致
func assertConsistent(t *testing.T, rt *RoomTable, ids []string) {
	t.Helper()
	for _, room := range rt.Rooms() {
		for _, id := range rt.Members(room) {
			assert.Contains(t, rt.RoomsOf(id), room, "member %s of %s", id, room)
		}
	}
	for _, id := range ids {
		for _, room := range rt.RoomsOf(id) {
			assert.Contains(t, rt.Members(room), id, "room %s of %s", room, id)
		}
	}
}

func TestRoomTableJoinLeave(t *testing.T) {
	rt := NewRoomTable(0, nil)

	m, err := rt.Join("a", "r1")
	require.NoError(t, err)
	assert.Equal(t, Membership{Room: "r1", Changed: true, Members: 1}, m)

	// 重复加入为空操作
	m, err = rt.Join("a", "r1")
	require.NoError(t, err)
	assert.False(t, m.Changed)
	assert.Equal(t, 1, m.Members)

	_, err = rt.Join("b", "r1")
	require.NoError(t, err)
	_, err = rt.Join("a", "r2")
	require.NoError(t, err)

	assert.Equal(t, []string{"r1", "r2"}, rt.Rooms())
	assert.Equal(t, []string{"r1", "r2"}, rt.RoomsOf("a"))
	assert.Equal(t, 2, rt.Size("r1"))
	assert.Equal(t, 2, rt.Count())
	assert.True(t, rt.Contains("b", "r1"))
	assertConsistent(t, rt, []string{"a", "b"})

	m, err = rt.Leave("a", "r2")
	require.NoError(t, err)
	assert.Equal(t, Membership{Room: "r2", Changed: true, Members: 0}, m)
	assert.Equal(t, []string{"r1"}, rt.Rooms(), "empty room is pruned")

	// 不在房间时离开为空操作
	m, err = rt.Leave("a", "r2")
	require.NoError(t, err)
	assert.False(t, m.Changed)
	assertConsistent(t, rt, []string{"a", "b"})
}

func TestRoomTableLeaveAll(t *testing.T) {
	rt := NewRoomTable(0, nil)
	for _, room := range []string{"c", "a", "b"} {
		_, err := rt.Join("x", room)
		require.NoError(t, err)
	}
	_, err := rt.Join("y", "a")
	require.NoError(t, err)

	left := rt.LeaveAll("x")
	assert.Equal(t, []Membership{
		{Room: "a", Changed: true, Members: 1},
		{Room: "b", Changed: true, Members: 0},
		{Room: "c", Changed: true, Members: 0},
	}, left)

	assert.Empty(t, rt.RoomsOf("x"))
	assert.Equal(t, []string{"a"}, rt.Rooms())
	assert.Equal(t, 1, rt.Count())
	assert.Nil(t, rt.LeaveAll("x"))
}

func TestRoomTableUnknownConnection(t *testing.T) {
	rt := NewRoomTable(0, func(id string) bool { return id == "known" })

	_, err := rt.Join("ghost", "r1")
	assert.True(t, errors.Is(err, ErrUnknownConnection))
	_, err = rt.Leave("ghost", "r1")
	assert.True(t, errors.Is(err, ErrUnknownConnection))
	assert.Empty(t, rt.Rooms())
	assert.Empty(t, rt.RoomsOf("ghost"))

	_, err = rt.Join("known", "r1")
	assert.NoError(t, err)
}

func TestRoomTableMaxRoomSize(t *testing.T) {
	rt := NewRoomTable(2, nil)
	_, err := rt.Join("a", "r")
	require.NoError(t, err)
	_, err = rt.Join("b", "r")
	require.NoError(t, err)

	m, err := rt.Join("c", "r")
	assert.True(t, errors.Is(err, ErrRoomFull))
	assert.False(t, m.Changed)
	assert.Equal(t, 2, m.Members)
	assert.Empty(t, rt.RoomsOf("c"))

	// 已在房间内的成员重复加入不受上限影响
	_, err = rt.Join("a", "r")
	assert.NoError(t, err)

	_, err = rt.Leave("b", "r")
	require.NoError(t, err)
	_, err = rt.Join("c", "r")
	assert.NoError(t, err)
}

func TestRoomTableConcurrent(t *testing.T) {
	rt := NewRoomTable(0, nil)
	const (
		conns = 50
		rooms = 10
	)

	ids := make([]string, conns)
	for i := range ids {
		ids[i] = fmt.Sprintf("conn-%d", i)
	}

	// 每个连接加入全部房间后离开偶数房间
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rooms; r++ {
				_, _ = rt.Join(id, fmt.Sprintf("room-%d", r))
			}
			for r := 0; r < rooms; r += 2 {
				_, _ = rt.Leave(id, fmt.Sprintf("room-%d", r))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, rooms/2, rt.Count())
	for r := 1; r < rooms; r += 2 {
		assert.Equal(t, conns, rt.Size(fmt.Sprintf("room-%d", r)))
	}
	for r := 0; r < rooms; r += 2 {
		assert.Zero(t, rt.Size(fmt.Sprintf("room-%d", r)))
	}
	assertConsistent(t, rt, ids)

	// 并发断开后全部房间消失
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.LeaveAll(id)
		}()
	}
	wg.Wait()
	assert.Empty(t, rt.Rooms())
	assert.Zero(t, rt.Count())
}

func TestRoomTableMembersSnapshot(t *testing.T) {
	rt := NewRoomTable(0, nil)
	for _, id := range []string{"b", "a", "c"} {
		_, err := rt.Join(id, "r")
		require.NoError(t, err)
	}
	members := rt.Members("r")
	sort.Strings(members)
	assert.Equal(t, []string{"a", "b", "c"}, members)

	members[0] = "mutated"
	assert.NotContains(t, rt.Members("r"), "mutated")
	assert.Empty(t, rt.Members("missing"))
}
