package adapter

import (
	"fmt"
	"time"
)

// 驱动类型
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverAMQP   = "amqp"
	DriverKafka  = "kafka"
)

// Config 适配器配置
type Config struct {
	// Driver 传输层驱动（none/memory/redis/nats/amqp/kafka），none 表示单进程
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Namespace 部署命名空间，即频道名
	Namespace string `mapstructure:"namespace" yaml:"namespace"`

	// Node 节点 ID，为空时随机生成
	Node string `mapstructure:"node" yaml:"node"`

	// Tracing 是否为传输层启用链路追踪
	Tracing bool `mapstructure:"tracing" yaml:"tracing"`

	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size"`
	DedupCapacity uint          `mapstructure:"dedup_capacity" yaml:"dedup_capacity"`
	DedupTTL      time.Duration `mapstructure:"dedup_ttl" yaml:"dedup_ttl"`
	RetryInitial  time.Duration `mapstructure:"retry_initial" yaml:"retry_initial"`
	RetryMax      time.Duration `mapstructure:"retry_max" yaml:"retry_max"`

	Redis *RedisConfig `mapstructure:"redis" yaml:"redis"`
	NATS  *NATSConfig  `mapstructure:"nats" yaml:"nats"`
	AMQP  *AMQPConfig  `mapstructure:"amqp" yaml:"amqp"`
	Kafka *KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	o := defaultOptions()
	return &Config{
		Driver:        DriverRedis,
		Namespace:     "socketio-example",
		QueueSize:     o.QueueSize,
		DedupCapacity: o.DedupCapacity,
		DedupTTL:      o.DedupTTL,
		RetryInitial:  o.RetryInitial,
		RetryMax:      o.RetryMax,
		Redis:         DefaultRedisConfig(),
		NATS:          DefaultNATSConfig(),
		AMQP:          DefaultAMQPConfig(),
		Kafka:         DefaultKafkaConfig(),
	}
}

// Options 转换为 New 的选项
func (c *Config) Options() []Option {
	opts := []Option{WithNamespace(c.Namespace)}
	if c.Node != "" {
		opts = append(opts, WithNode(c.Node))
	}
	if c.QueueSize > 0 {
		opts = append(opts, WithQueueSize(c.QueueSize))
	}
	if c.DedupCapacity > 0 && c.DedupTTL > 0 {
		opts = append(opts, WithDedup(c.DedupCapacity, c.DedupTTL))
	}
	if c.RetryInitial > 0 && c.RetryMax > 0 {
		opts = append(opts, WithRetry(c.RetryInitial, c.RetryMax))
	}
	return opts
}

// NewTransport 根据驱动创建传输层
func NewTransport(cfg *Config) (Transport, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		t   Transport
		err error
	)
	switch cfg.Driver {
	case DriverMemory:
		t = DefaultHub.Transport()
	case DriverRedis:
		t, err = NewRedis(cfg.Redis)
	case DriverNATS:
		t, err = NewNATS(cfg.NATS)
	case DriverAMQP:
		t, err = NewAMQP(cfg.AMQP)
	case DriverKafka:
		t, err = NewKafka(cfg.Kafka)
	default:
		return nil, ErrInvalidConfig.WithMessage(fmt.Sprintf("adapter: unsupported driver: %q", cfg.Driver))
	}
	if err != nil {
		return nil, err
	}

	if cfg.Tracing {
		t = NewTracing(t)
	}
	return t, nil
}
