package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	base := New(4001, "unknown connection")

	t.Run("message", func(t *testing.T) {
		assert.Equal(t, "unknown connection", base.Error())
		assert.Equal(t, "unknown connection: EOF", base.WithError(io.EOF).Error())
	})

	t.Run("is matches by code", func(t *testing.T) {
		wrapped := fmt.Errorf("join lobby: %w", base.WithMessage("conn abc"))
		assert.True(t, Is(wrapped, base))
		assert.False(t, Is(wrapped, New(4002, "connection gone")))
	})

	t.Run("unwrap reaches cause", func(t *testing.T) {
		err := base.WithError(io.EOF)
		assert.True(t, Is(err, io.EOF))
	})

	t.Run("with does not mutate sentinel", func(t *testing.T) {
		_ = base.WithError(io.EOF)
		_ = base.WithMessage("other")
		assert.Nil(t, base.Err)
		assert.Equal(t, "unknown connection", base.Message)
	})

	t.Run("code of", func(t *testing.T) {
		assert.Equal(t, 4001, CodeOf(fmt.Errorf("x: %w", base)))
		assert.Equal(t, 0, CodeOf(io.EOF))
		assert.Equal(t, 0, CodeOf(nil))
	})
}
