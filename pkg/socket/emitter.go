package socket

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tokmz/qio/pkg/errors"
)

// Emitter 本地投递器，只向本进程的连接写帧
type Emitter struct {
	registry  *Registry
	rooms     *RoomTable
	metrics   Metrics
	threshold int // 成员数达到该值时并发投递
	workers   int // 并发投递的协程上限
}

// NewEmitter 创建本地投递器
func NewEmitter(registry *Registry, rooms *RoomTable, metrics Metrics, threshold, workers int) *Emitter {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if workers <= 0 {
		workers = 1
	}
	return &Emitter{
		registry:  registry,
		rooms:     rooms,
		metrics:   metrics,
		threshold: threshold,
		workers:   workers,
	}
}

// EmitToConn 向单个本地连接投递事件
// 连接未注册或已关闭时返回 ErrConnectionGone
func (e *Emitter) EmitToConn(id, event string, data json.RawMessage) error {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return err
	}
	return e.send(id, frame)
}

func (e *Emitter) send(id string, frame []byte) error {
	conn, ok := e.registry.Lookup(id)
	if !ok {
		return ErrConnectionGone
	}
	if err := conn.Send(frame); err != nil {
		e.metrics.IncrementDroppedDeliveries()
		return err
	}
	return nil
}

// EmitToRoom 向房间的本地成员投递事件，exclude 非空时跳过该连接
// 单个成员失败不会中断投递，返回成功数与合并后的失败
func (e *Emitter) EmitToRoom(room, event string, data json.RawMessage, exclude string) (int, error) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return 0, err
	}

	members := e.rooms.Members(room)
	targets := members[:0]
	for _, id := range members {
		if id != exclude {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() {
		e.metrics.RecordBroadcastLatency(time.Since(start))
	}()

	if e.threshold <= 0 || len(targets) < e.threshold {
		var errs []error
		delivered := 0
		for _, id := range targets {
			if err := e.send(id, frame); err != nil {
				errs = append(errs, fmt.Errorf("conn %s: %w", id, err))
				continue
			}
			delivered++
		}
		return delivered, errors.Join(errs...)
	}

	return e.fanout(targets, frame)
}

// fanout 使用有界协程组并发投递
func (e *Emitter) fanout(targets []string, frame []byte) (int, error) {
	var (
		delivered atomic.Int64
		mu        sync.Mutex
		errs      []error
		g         errgroup.Group
	)
	g.SetLimit(e.workers)

	for _, id := range targets {
		g.Go(func() error {
			if err := e.send(id, frame); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("conn %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load()), errors.Join(errs...)
}
