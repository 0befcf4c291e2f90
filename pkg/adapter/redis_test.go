package adapter

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/qio/pkg/errors"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// scriptedPubSub 按顺序返回预设的接收结果
type scriptedPubSub struct {
	steps   []any // *redis.Message、*redis.Pong 或 error
	pings   int
	pingErr error
}

func (s *scriptedPubSub) ReceiveTimeout(ctx context.Context, _ time.Duration) (interface{}, error) {
	if len(s.steps) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if err, ok := step.(error); ok {
		return nil, err
	}
	return step, nil
}

func (s *scriptedPubSub) Ping(context.Context, ...string) error {
	s.pings++
	return s.pingErr
}

func TestRedisReceive(t *testing.T) {
	msg := func(payload string) *redis.Message { return &redis.Message{Channel: "c", Payload: payload} }

	tests := []struct {
		name      string
		steps     []any
		pingErr   error
		want      []string
		wantPings int
		wantLost  bool
	}{
		{
			name:      "idle connection answers ping",
			steps:     []any{timeoutErr{}, &redis.Pong{}, msg("a"), timeoutErr{}, msg("b")},
			want:      []string{"a", "b"},
			wantPings: 2,
		},
		{
			name:      "no reply after ping",
			steps:     []any{msg("a"), timeoutErr{}, timeoutErr{}},
			want:      []string{"a"},
			wantPings: 1,
			wantLost:  true,
		},
		{
			name:     "connection reset",
			steps:    []any{msg("a"), io.EOF},
			want:     []string{"a"},
			wantLost: true,
		},
		{
			name:      "ping write fails",
			steps:     []any{timeoutErr{}},
			pingErr:   io.ErrClosedPipe,
			wantPings: 1,
			wantLost:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := &scriptedPubSub{steps: tt.steps, pingErr: tt.pingErr}
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			var got []string
			err := receive(ctx, ps, time.Millisecond, func(b []byte) { got = append(got, string(b)) })

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantPings, ps.pings)
			if tt.wantLost {
				assert.True(t, errors.Is(err, ErrSubscriptionLost), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedisSubscribeUnreachable(t *testing.T) {
	r := NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ready := false
	err := r.Subscribe(ctx, "test", func() { ready = true }, func([]byte) {})
	assert.Error(t, err)
	assert.False(t, ready)
	require.Error(t, r.Publish(ctx, "test", "node", []byte("x")))
}
