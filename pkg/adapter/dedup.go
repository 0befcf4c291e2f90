package adapter

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	gocache "github.com/patrickmn/go-cache"
)

// dedup 基于消息 ID 的重放过滤器
// 布隆过滤器做前置判断，go-cache 保存窗口期内的精确 ID 集合
// 不变量：窗口期内的每个 ID 都已加入布隆过滤器
type dedup struct {
	mu       sync.Mutex
	filter   *bloom.BloomFilter
	seen     *gocache.Cache
	capacity uint
	added    uint
	fpRate   float64
}

// newDedup 创建过滤器
// capacity 为布隆过滤器重建前可容纳的 ID 数，ttl 为精确去重窗口
func newDedup(capacity uint, fpRate float64, ttl time.Duration) *dedup {
	return &dedup{
		filter:   bloom.NewWithEstimates(capacity, fpRate),
		// 不启用 janitor 协程，过期项在 rebuild 时清理
		seen:     gocache.New(ttl, 0),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// Seen 记录 id，已在窗口期内出现过时返回 true
func (d *dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.filter.TestString(id) {
		d.remember(id)
		return false
	}

	// 布隆命中可能是误判，以精确集合为准
	if err := d.seen.Add(id, struct{}{}, gocache.DefaultExpiration); err != nil {
		return true
	}
	d.added++
	return false
}

// remember 调用方必须持有 mu
func (d *dedup) remember(id string) {
	d.seen.SetDefault(id, struct{}{})
	d.filter.AddString(id)
	d.added++
	if d.added >= d.capacity {
		d.rebuild()
	}
}

// rebuild 用未过期的 ID 重建布隆过滤器，避免误判率随时间上升
func (d *dedup) rebuild() {
	d.seen.DeleteExpired()
	d.filter.ClearAll()
	d.added = 0
	for id := range d.seen.Items() {
		d.filter.AddString(id)
		d.added++
	}
	// 窗口期内 ID 过多时扩容
	if d.added >= d.capacity/2 {
		d.capacity *= 2
		d.filter = bloom.NewWithEstimates(d.capacity, d.fpRate)
		for id := range d.seen.Items() {
			d.filter.AddString(id)
		}
	}
}

// Len 窗口期内的 ID 数
func (d *dedup) Len() int {
	return d.seen.ItemCount()
}
