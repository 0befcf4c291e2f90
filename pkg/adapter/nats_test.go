package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"

	qerrors "github.com/tokmz/qio/pkg/errors"
)

func TestNATSServe(t *testing.T) {
	t.Run("delivers until disconnect", func(t *testing.T) {
		msgs := make(chan *nats.Msg, 2)
		lost := make(chan error, 1)
		msgs <- &nats.Msg{Data: []byte("a")}

		var got []string
		done := make(chan error, 1)
		go func() {
			done <- serveNATS(context.Background(), msgs, lost, func(b []byte) { got = append(got, string(b)) })
		}()

		time.Sleep(20 * time.Millisecond)
		lost <- nats.ErrConnectionReconnecting
		select {
		case err := <-done:
			assert.True(t, qerrors.Is(err, ErrSubscriptionLost))
			assert.True(t, errors.Is(err, nats.ErrConnectionReconnecting))
		case <-time.After(time.Second):
			t.Fatal("serve did not return after disconnect")
		}
		assert.Equal(t, []string{"a"}, got)
	})

	t.Run("context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, serveNATS(ctx, make(chan *nats.Msg), make(chan error), func([]byte) {}))
	})
}

func TestNATSDisconnectedCoalesces(t *testing.T) {
	n, err := NewNATS(nil)
	assert.NoError(t, err)

	n.disconnected(nats.ErrConnectionReconnecting)
	n.disconnected(nil)
	assert.Len(t, n.lost, 1)
	assert.Equal(t, nats.ErrConnectionReconnecting, <-n.lost)

	n.disconnected(nil)
	assert.Equal(t, nats.ErrConnectionClosed, <-n.lost)
}
