package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig NATS 传输层配置
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Name          string        `mapstructure:"name" yaml:"name"` // 客户端名称
	Token         string        `mapstructure:"token" yaml:"token"`
	Username      string        `mapstructure:"username" yaml:"username"`
	Password      string        `mapstructure:"password" yaml:"password"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	PingInterval  time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	BufferSize    int           `mapstructure:"buffer_size" yaml:"buffer_size"` // 订阅通道缓冲
}

// DefaultNATSConfig 默认 NATS 配置
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "qio",
		ReconnectWait: time.Second,
		PingInterval:  20 * time.Second,
		BufferSize:    256,
	}
}

// NATS 基于 NATS core subject 的传输层
// 连接延迟到首次使用时建立，客户端自带无限重连；
// 每次断线都会让 Subscribe 返回，以便适配器在重连后重新通告
type NATS struct {
	cfg *NATSConfig

	mu   sync.Mutex
	conn *nats.Conn
	lost chan error
}

// NewNATS 创建 NATS 传输层
func NewNATS(cfg *NATSConfig) (*NATS, error) {
	if cfg == nil {
		cfg = DefaultNATSConfig()
	}
	if cfg.URL == "" {
		return nil, ErrInvalidConfig.WithMessage("adapter: nats url is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &NATS{cfg: cfg, lost: make(chan error, 1)}, nil
}

// disconnected 记录一次断线，未被取走的通知合并为一条
func (n *NATS) disconnected(err error) {
	if err == nil {
		err = nats.ErrConnectionClosed
	}
	select {
	case n.lost <- err:
	default:
	}
}

// Name 传输层名称
func (n *NATS) Name() string { return "nats" }

// connection 获取或建立连接
func (n *NATS) connection() (*nats.Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil && !n.conn.IsClosed() {
		return n.conn, nil
	}

	opts := []nats.Option{
		nats.Name(n.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(n.cfg.ReconnectWait),
		nats.PingInterval(n.cfg.PingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) { n.disconnected(err) }),
		nats.ClosedHandler(func(*nats.Conn) { n.disconnected(nats.ErrConnectionClosed) }),
	}
	if n.cfg.Token != "" {
		opts = append(opts, nats.Token(n.cfg.Token))
	}
	if n.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(n.cfg.Username, n.cfg.Password))
	}

	conn, err := nats.Connect(n.cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	n.conn = conn
	return conn, nil
}

// Publish 发布消息，NATS subject 不分区，忽略 key
func (n *NATS) Publish(_ context.Context, channel, _ string, data []byte) error {
	conn, err := n.connection()
	if err != nil {
		return err
	}
	if !conn.IsConnected() {
		return nats.ErrConnectionReconnecting
	}
	return conn.Publish(channel, data)
}

// Subscribe 订阅 subject
func (n *NATS) Subscribe(ctx context.Context, channel string, ready func(), deliver func([]byte)) error {
	conn, err := n.connection()
	if err != nil {
		return err
	}

	ch := make(chan *nats.Msg, n.cfg.BufferSize)
	sub, err := conn.ChanSubscribe(channel, ch)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	// 丢弃订阅建立之前的断线通知
	select {
	case <-n.lost:
	default:
	}
	// 确认服务端已登记订阅，重连期间在此失败
	if err := conn.FlushTimeout(5 * time.Second); err != nil {
		return err
	}
	ready()

	return serveNATS(ctx, ch, n.lost, deliver)
}

// serveNATS 投递消息直到 ctx 取消或连接断开
func serveNATS(ctx context.Context, msgs <-chan *nats.Msg, lost <-chan error, deliver func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			deliver(msg.Data)
		case err := <-lost:
			return ErrSubscriptionLost.WithError(err)
		}
	}
}

// Close 关闭连接
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	return nil
}
