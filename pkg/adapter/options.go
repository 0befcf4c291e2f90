package adapter

import (
	"time"

	"github.com/google/uuid"

	"github.com/tokmz/qio/pkg/logger"
)

// Options 适配器运行参数
type Options struct {
	Namespace     string        // 频道名（部署命名空间）
	Node          string        // 本节点 ID，默认随机 UUID
	QueueSize     int           // 入站队列大小
	DedupCapacity uint          // 去重过滤器容量
	DedupTTL      time.Duration // 去重窗口
	RetryInitial  time.Duration // 订阅重试初始间隔
	RetryMax      time.Duration // 订阅重试最大间隔
	Logger        logger.Logger
}

// Option 选项函数
type Option func(*Options)

// defaultOptions 默认选项
func defaultOptions() *Options {
	return &Options{
		Namespace:     "qio",
		Node:          uuid.NewString(),
		QueueSize:     1024,
		DedupCapacity: 100000,
		DedupTTL:      5 * time.Minute,
		RetryInitial:  500 * time.Millisecond,
		RetryMax:      30 * time.Second,
		Logger:        logger.Nop(),
	}
}

// WithNamespace 设置频道名
func WithNamespace(ns string) Option {
	return func(o *Options) {
		o.Namespace = ns
	}
}

// WithNode 设置节点 ID
func WithNode(node string) Option {
	return func(o *Options) {
		o.Node = node
	}
}

// WithQueueSize 设置入站队列大小
func WithQueueSize(size int) Option {
	return func(o *Options) {
		o.QueueSize = size
	}
}

// WithDedup 设置去重容量与窗口
func WithDedup(capacity uint, ttl time.Duration) Option {
	return func(o *Options) {
		o.DedupCapacity = capacity
		o.DedupTTL = ttl
	}
}

// WithRetry 设置订阅重试间隔
func WithRetry(initial, max time.Duration) Option {
	return func(o *Options) {
		o.RetryInitial = initial
		o.RetryMax = max
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func (o *Options) validate() error {
	switch {
	case o.Namespace == "":
		return ErrInvalidConfig.WithMessage("adapter: namespace is required")
	case o.Node == "":
		return ErrInvalidConfig.WithMessage("adapter: node id is required")
	case o.QueueSize <= 0:
		return ErrInvalidConfig.WithMessage("adapter: queue size must be positive")
	case o.DedupCapacity == 0 || o.DedupTTL <= 0:
		return ErrInvalidConfig.WithMessage("adapter: dedup capacity and ttl must be positive")
	case o.RetryInitial <= 0 || o.RetryMax < o.RetryInitial:
		return ErrInvalidConfig.WithMessage("adapter: invalid retry interval")
	}
	return nil
}
