package adapter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupSeen(t *testing.T) {
	d := newDedup(1000, 0.001, time.Minute)

	assert.False(t, d.Seen("a"))
	assert.True(t, d.Seen("a"))
	assert.False(t, d.Seen("b"))
	assert.Equal(t, 2, d.Len())
}

func TestDedupRebuildKeepsWindow(t *testing.T) {
	d := newDedup(16, 0.01, time.Minute)

	for i := 0; i < 100; i++ {
		assert.False(t, d.Seen(fmt.Sprintf("id-%d", i)))
	}
	// 多次重建后窗口内的 ID 仍被识别
	for i := 0; i < 100; i++ {
		assert.True(t, d.Seen(fmt.Sprintf("id-%d", i)), "id-%d", i)
	}
	assert.GreaterOrEqual(t, d.capacity, uint(100))
}

func TestDedupExpiry(t *testing.T) {
	d := newDedup(1000, 0.001, 20*time.Millisecond)

	assert.False(t, d.Seen("a"))
	time.Sleep(50 * time.Millisecond)
	// 窗口过期后视为新消息
	assert.False(t, d.Seen("a"))
}

func TestDedupRebuildDropsExpired(t *testing.T) {
	d := newDedup(8, 0.01, 20*time.Millisecond)

	for i := 0; i < 7; i++ {
		d.Seen(fmt.Sprintf("old-%d", i))
	}
	time.Sleep(50 * time.Millisecond)
	// 第 8 个 ID 触发重建
	d.Seen("new")
	assert.Equal(t, 1, d.Len())
	assert.True(t, d.Seen("new"))
}
