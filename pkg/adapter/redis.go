package adapter

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokmz/qio/pkg/errors"
)

// RedisMode Redis 部署模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// RedisConfig Redis 传输层配置
type RedisConfig struct {
	Mode         RedisMode     `mapstructure:"mode" yaml:"mode"`
	Addr         string        `mapstructure:"addr" yaml:"addr"`   // 单机地址
	Addrs        []string      `mapstructure:"addrs" yaml:"addrs"` // 集群节点或哨兵地址
	MasterName   string        `mapstructure:"master_name" yaml:"master_name"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	DB           int           `mapstructure:"db" yaml:"db"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// DefaultRedisConfig 默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Mode:         RedisStandalone,
		Addr:         "127.0.0.1:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Redis 基于 PUBLISH/SUBSCRIBE 的传输层
type Redis struct {
	client redis.UniversalClient
}

// NewRedis 创建 Redis 传输层，不主动连接
func NewRedis(cfg *RedisConfig) (*Redis, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	var client redis.UniversalClient
	switch cfg.Mode {
	case RedisStandalone, "":
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})

	case RedisCluster:
		if len(cfg.Addrs) == 0 {
			return nil, ErrInvalidConfig.WithMessage("adapter: redis cluster mode requires addrs")
		}
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})

	case RedisSentinel:
		if len(cfg.Addrs) == 0 || cfg.MasterName == "" {
			return nil, ErrInvalidConfig.WithMessage("adapter: redis sentinel mode requires addrs and master name")
		}
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})

	default:
		return nil, ErrInvalidConfig.WithMessage(fmt.Sprintf("adapter: unsupported redis mode: %s", cfg.Mode))
	}

	return &Redis{client: client}, nil
}

// NewRedisWithClient 复用已有客户端
func NewRedisWithClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Name 传输层名称
func (r *Redis) Name() string { return "redis" }

// Publish 发布消息，Redis 频道不分区，忽略 key
func (r *Redis) Publish(ctx context.Context, channel, _ string, data []byte) error {
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe 订阅频道
// 连接断开时返回错误，由适配器按退避重新订阅并再次调用 ready
func (r *Redis) Subscribe(ctx context.Context, channel string, ready func(), deliver func([]byte)) error {
	ps := r.client.Subscribe(ctx, channel)
	defer ps.Close()

	// 等待订阅确认，连接失败时在此返回
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	ready()

	return receive(ctx, ps, redisHealthCheck, deliver)
}

const redisHealthCheck = 10 * time.Second

// receiver go-redis PubSub 中接收循环用到的部分
type receiver interface {
	ReceiveTimeout(ctx context.Context, timeout time.Duration) (interface{}, error)
	Ping(ctx context.Context, payload ...string) error
}

// receive 逐条读取订阅消息
// 空闲超过 interval 时发送 PING，再次超时仍无任何回复视为连接中断；
// 不使用 PubSub.Channel，它会在内部静默重连，适配器无法得知订阅曾经中断
func receive(ctx context.Context, ps receiver, interval time.Duration, deliver func([]byte)) error {
	pinged := false
	for {
		msg, err := ps.ReceiveTimeout(ctx, interval)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !isTimeout(err) || pinged {
				return ErrSubscriptionLost.WithError(err)
			}
			if err := ps.Ping(ctx); err != nil {
				return ErrSubscriptionLost.WithError(err)
			}
			pinged = true
			continue
		}

		pinged = false
		if m, ok := msg.(*redis.Message); ok {
			deliver([]byte(m.Payload))
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Close 关闭客户端
func (r *Redis) Close() error {
	return r.client.Close()
}
