package socket

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pipeConn 内存连接，同时实现 Sink 与 FrameReader
type pipeConn struct {
	mu     sync.Mutex
	out    [][]byte
	fail   error
	in     chan []byte
	done   chan struct{}
	closed bool
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (p *pipeConn) WriteFrame(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrConnectionGone
	}
	if p.fail != nil {
		return p.fail
	}
	p.out = append(p.out, frame)
	return nil
}

func (p *pipeConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func (p *pipeConn) ReadFrame() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		return nil, io.EOF
	}
}

// failWith 之后的写入都返回 err
func (p *pipeConn) failWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// push 模拟客户端发送一帧
func (p *pipeConn) push(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := EncodeFrame(event, raw)
	require.NoError(t, err)
	p.in <- frame
}

func (p *pipeConn) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// frames 已写出的帧（解码后）
func (p *pipeConn) frames(t *testing.T) []Frame {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := make([]Frame, 0, len(p.out))
	for _, raw := range p.out {
		f, err := DecodeFrame(raw)
		require.NoError(t, err)
		frames = append(frames, *f)
	}
	return frames
}

// framesOf 指定事件的帧数据
func (p *pipeConn) framesOf(t *testing.T, event string) []string {
	t.Helper()
	var data []string
	for _, f := range p.frames(t) {
		if f.Event == event {
			data = append(data, string(f.Data))
		}
	}
	return data
}

// waitFrames 等待写出至少 n 帧
func (p *pipeConn) waitFrames(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.out) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

// newTestServer 创建单进程服务，测试结束时关闭
func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	return srv
}

// connect 接入一个内存连接并启动读循环
func connect(t *testing.T, srv *Server) (*Socket, *pipeConn) {
	t.Helper()
	p := newPipeConn()
	sock, err := srv.Accept(p)
	require.NoError(t, err)
	go func() { _ = sock.Serve(p) }()
	return sock, p
}
