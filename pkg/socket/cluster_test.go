package socket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/qio/pkg/adapter"
	"github.com/tokmz/qio/pkg/errors"
)

const waitFor = 2 * time.Second

// newClusterServer 创建挂在 hub 上的服务并等待订阅建立
func newClusterServer(t *testing.T, hub *adapter.MemoryHub, node string) *Server {
	t.Helper()
	return startClusterServer(t, context.Background(), hub, node)
}

func startClusterServer(t *testing.T, ctx context.Context, hub *adapter.MemoryHub, node string) *Server {
	t.Helper()
	a, err := adapter.New(hub.Transport(),
		adapter.WithNamespace("test"),
		adapter.WithNode(node),
		adapter.WithRetry(10*time.Millisecond, 50*time.Millisecond),
	)
	require.NoError(t, err)

	srv := newTestServer(t, WithAdapter(a), WithPublishTimeout(time.Second))
	srv.OnConnection(chatSetup)
	require.NoError(t, srv.Start(ctx))
	require.Eventually(t, a.Connected, waitFor, 5*time.Millisecond)
	return srv
}

// newObserver 只订阅不发布的适配器，记录成员通告
func newObserver(t *testing.T, hub *adapter.MemoryHub) func() []*adapter.Message {
	t.Helper()
	a, err := adapter.New(hub.Transport(), adapter.WithNamespace("test"), adapter.WithNode("observer"))
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []*adapter.Message
	)
	a.OnMessage(func(m *adapter.Message) {
		if m.Kind != adapter.KindJoin && m.Kind != adapter.KindLeave {
			return
		}
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	require.Eventually(t, a.Connected, waitFor, 5*time.Millisecond)

	return func() []*adapter.Message {
		mu.Lock()
		defer mu.Unlock()
		return append([]*adapter.Message(nil), got...)
	}
}

func TestClusterLobby(t *testing.T) {
	hub := adapter.NewMemoryHub()
	srvA := newClusterServer(t, hub, "node-a")
	srvB := newClusterServer(t, hub, "node-b")
	assert.Equal(t, "node-a", srvA.Node())

	_, pa := connect(t, srvA)
	_, pb := connect(t, srvB)

	pa.push(t, "join room", "lobby")
	pb.push(t, "join room", "lobby")
	require.Eventually(t, func() bool {
		return srvA.RoomSize("lobby") == 2 && srvB.RoomSize("lobby") == 2
	}, waitFor, 5*time.Millisecond)

	pa.push(t, "chat message", "hi")
	pa.waitFrames(t, 1)
	pb.waitFrames(t, 1)

	// 等待可能的重复投递
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{`"hi"`}, pa.framesOf(t, "chat message"))
	assert.Equal(t, []string{`"hi"`}, pb.framesOf(t, "chat message"))
}

func TestClusterJoinLeaveAcrossNodes(t *testing.T) {
	hub := adapter.NewMemoryHub()
	srvA := newClusterServer(t, hub, "node-a")
	srvB := newClusterServer(t, hub, "node-b")

	x, px := connect(t, srvA)
	y, py := connect(t, srvB)
	require.NoError(t, x.Join("r1"))
	require.NoError(t, y.Join("r1"))
	require.Eventually(t, func() bool { return srvA.RoomSize("r1") == 2 }, waitFor, 5*time.Millisecond)

	require.NoError(t, x.EmitTo("r1", "m", 1))
	px.waitFrames(t, 1)
	py.waitFrames(t, 1)

	require.NoError(t, x.Leave("r1"))
	require.Eventually(t, func() bool { return srvB.RoomSize("r1") == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, y.EmitTo("r1", "m", 2))
	py.waitFrames(t, 2)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{`1`}, px.framesOf(t, "m"))
	assert.Equal(t, []string{`1`, `2`}, py.framesOf(t, "m"))
}

func TestClusterRoomListing(t *testing.T) {
	hub := adapter.NewMemoryHub()
	srvA := newClusterServer(t, hub, "node-a")
	srvB := newClusterServer(t, hub, "node-b")

	a, _ := connect(t, srvA)
	b, _ := connect(t, srvB)
	require.NoError(t, a.Join("only-a"))
	require.NoError(t, a.Join("shared"))
	require.NoError(t, b.Join("shared"))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"only-a", "shared"}, srvB.Rooms())
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"shared"}, srvB.LocalRooms())
	assert.Empty(t, srvB.Members("only-a"), "peers never track remote identities")

	// 断开后远端房间随之消失
	require.NoError(t, a.Disconnect())
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"shared"}, srvB.Rooms())
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, srvB.RoomSize("shared"))
}

func TestClusterEmitToRemoteConnection(t *testing.T) {
	hub := adapter.NewMemoryHub()
	srvA := newClusterServer(t, hub, "node-a")
	srvB := newClusterServer(t, hub, "node-b")

	_, pa := connect(t, srvA)
	b, pb := connect(t, srvB)

	require.NoError(t, srvA.EmitToConn(b.ID(), "direct", "psst"))
	pb.waitFrames(t, 1)
	assert.Equal(t, []string{`"psst"`}, pb.framesOf(t, "direct"))
	assert.Empty(t, pa.frames(t))

	// 集群内无人持有的连接：发布成功，所有节点忽略
	require.NoError(t, srvA.EmitToConn("ghost", "direct", nil))
}

func TestClusterBroadcastExcludesSender(t *testing.T) {
	hub := adapter.NewMemoryHub()
	srvA := newClusterServer(t, hub, "node-a")
	srvB := newClusterServer(t, hub, "node-b")

	a, pa := connect(t, srvA)
	b, pb := connect(t, srvB)
	require.NoError(t, a.Join("r"))
	require.NoError(t, b.Join("r"))

	require.NoError(t, b.BroadcastTo("r", "e", "x"))
	pa.waitFrames(t, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, pb.frames(t))
}

func TestClusterInboundIsNotRepublished(t *testing.T) {
	hub := adapter.NewMemoryHub()
	srvA := newClusterServer(t, hub, "node-a")
	srvB := newClusterServer(t, hub, "node-b")
	statsB := srvB.config.Adapter.Stats

	a, _ := connect(t, srvA)
	b, pb := connect(t, srvB)
	require.NoError(t, a.Join("r"))
	require.NoError(t, b.Join("r"))

	// 同步请求与加入通告各一次
	require.Eventually(t, func() bool { return statsB().Published == 2 }, waitFor, 5*time.Millisecond)

	require.NoError(t, a.EmitTo("r", "e", 1))
	pb.waitFrames(t, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), statsB().Published)
}

func TestClusterBrokerLoss(t *testing.T) {
	hub := adapter.NewMemoryHub()
	srvA := newClusterServer(t, hub, "node-a")
	srvB := newClusterServer(t, hub, "node-b")

	a, pa := connect(t, srvA)
	b, pb := connect(t, srvB)
	require.NoError(t, a.Join("r"))
	require.NoError(t, b.Join("r"))

	hub.SetDown(true)
	require.Eventually(t, func() bool { return !srvA.config.Adapter.Connected() }, waitFor, 5*time.Millisecond)

	// 本地投递不受影响，发布失败合并返回
	n, err := srvA.BroadcastToRoom("r", "e", "local", "")
	assert.Equal(t, 1, n)
	assert.True(t, errors.Is(err, ErrBrokerUnavailable))
	assert.Equal(t, []string{`"local"`}, pa.framesOf(t, "e"))

	// 加入房间不因代理故障失败
	c, _ := connect(t, srvA)
	assert.NoError(t, c.Join("r"))

	hub.SetDown(false)
	require.Eventually(t, func() bool {
		return srvA.config.Adapter.Connected() && srvB.config.Adapter.Connected()
	}, waitFor, 5*time.Millisecond)

	// 重连后重新通告断线期间的加入
	require.Eventually(t, func() bool { return srvB.RoomSize("r") == 3 }, waitFor, 5*time.Millisecond)

	_, err = srvA.BroadcastToRoom("r", "e", "again", "")
	require.NoError(t, err)
	pb.waitFrames(t, 1)
	assert.Equal(t, []string{`"again"`}, pb.framesOf(t, "e"))
}

func TestClusterShutdownAnnouncesLeave(t *testing.T) {
	hub := adapter.NewMemoryHub()
	srvA := newClusterServer(t, hub, "node-a")
	srvB := newClusterServer(t, hub, "node-b")

	for i := 0; i < 3; i++ {
		s, _ := connect(t, srvA)
		require.NoError(t, s.Join("a-room"))
	}
	require.Eventually(t, func() bool { return srvB.RoomSize("a-room") == 3 }, waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, srvA.Shutdown(ctx))

	require.Eventually(t, func() bool {
		return srvB.RoomSize("a-room") == 0 && len(srvB.Rooms()) == 0
	}, waitFor, 5*time.Millisecond)
}

func TestClusterShutdownAfterStartContextCancelled(t *testing.T) {
	hub := adapter.NewMemoryHub()
	startCtx, stop := context.WithCancel(context.Background())
	srvA := startClusterServer(t, startCtx, hub, "node-a")
	srvB := newClusterServer(t, hub, "node-b")

	s, _ := connect(t, srvA)
	require.NoError(t, s.Join("a-room"))
	require.Eventually(t, func() bool { return srvB.RoomSize("a-room") == 1 }, waitFor, 5*time.Millisecond)

	// 信号先取消启动 ctx，随后才执行 Shutdown
	stop()
	time.Sleep(50 * time.Millisecond)
	assert.True(t, srvA.config.Adapter.Connected())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, srvA.Shutdown(ctx))

	require.Eventually(t, func() bool {
		return srvB.RoomSize("a-room") == 0 && len(srvB.Rooms()) == 0
	}, waitFor, 5*time.Millisecond)
}

func TestClusterMembershipKinds(t *testing.T) {
	hub := adapter.NewMemoryHub()
	srv := newClusterServer(t, hub, "node-a")
	observed := newObserver(t, hub)

	x, _ := connect(t, srv)
	y, _ := connect(t, srv)
	require.NoError(t, x.Join("r"))
	require.NoError(t, y.Join("r"))
	require.NoError(t, x.Leave("r"))
	require.NoError(t, y.Leave("r"))

	require.Eventually(t, func() bool { return len(observed()) == 4 }, waitFor, 5*time.Millisecond)

	want := []struct {
		kind    adapter.Kind
		members int
	}{
		{adapter.KindJoin, 1},
		{adapter.KindJoin, 2},
		{adapter.KindLeave, 1},
		{adapter.KindLeave, 0},
	}
	for i, m := range observed() {
		assert.Equal(t, want[i].kind, m.Kind, "message %d", i)
		assert.Equal(t, want[i].members, m.Members, "message %d", i)
		assert.Equal(t, "r", m.Room)
		assert.Equal(t, "node-a", m.Origin)
	}
}

func TestClusterSetRemote(t *testing.T) {
	c := &cluster{
		remote:    make(map[string]map[string]int),
		announced: make(map[string]int),
	}

	c.setRemote("r", "n1", 2)
	c.setRemote("r", "n2", 1)
	// 重放同一通告结果不变
	c.setRemote("r", "n1", 2)
	assert.Equal(t, 3, c.remoteSize("r"))
	assert.Equal(t, []string{"r"}, c.remoteRooms())

	c.setRemote("r", "n1", 0)
	assert.Equal(t, 1, c.remoteSize("r"))
	c.setRemote("r", "n2", 0)
	assert.Empty(t, c.remoteRooms())
	c.setRemote("missing", "n1", 0)
	assert.Empty(t, c.remoteRooms())
}
