package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig Kafka 传输层配置
type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers" yaml:"brokers"`
	ClientID          string        `mapstructure:"client_id" yaml:"client_id"`
	Partitions        int32         `mapstructure:"partitions" yaml:"partitions"`                 // 自动建主题时的分区数
	ReplicationFactor int16         `mapstructure:"replication_factor" yaml:"replication_factor"` // 自动建主题时的副本数
	CreateTopic       bool          `mapstructure:"create_topic" yaml:"create_topic"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// DefaultKafkaConfig 默认 Kafka 配置
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:           []string{"127.0.0.1:9092"},
		ClientID:          "qio",
		Partitions:        3,
		ReplicationFactor: 1,
		CreateTopic:       true,
		DialTimeout:       5 * time.Second,
	}
}

// Kafka 基于 Kafka 主题的传输层
// 每个进程不使用消费组，直接从所有分区的最新位点读取，实现广播语义
type Kafka struct {
	cfg    *KafkaConfig
	config *sarama.Config

	mu       sync.Mutex
	producer sarama.SyncProducer
	ensured  map[string]bool // 已确认存在的主题
}

// NewKafka 创建 Kafka 传输层，不主动连接
func NewKafka(cfg *KafkaConfig) (*Kafka, error) {
	if cfg == nil {
		cfg = DefaultKafkaConfig()
	}
	if len(cfg.Brokers) == 0 {
		return nil, ErrInvalidConfig.WithMessage("adapter: kafka brokers are required")
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Net.DialTimeout = cfg.DialTimeout
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest

	return &Kafka{
		cfg:     cfg,
		config:  sc,
		ensured: make(map[string]bool),
	}, nil
}

// Name 传输层名称
func (k *Kafka) Name() string { return "kafka" }

// ensureTopic 按需创建主题，调用方必须持有 mu
func (k *Kafka) ensureTopic(topic string) error {
	if !k.cfg.CreateTopic || k.ensured[topic] {
		return nil
	}
	admin, err := sarama.NewClusterAdmin(k.cfg.Brokers, k.config)
	if err != nil {
		return err
	}
	defer admin.Close()

	err = admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     k.cfg.Partitions,
		ReplicationFactor: k.cfg.ReplicationFactor,
	}, false)
	var topicErr *sarama.TopicError
	if err != nil && !(errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists) {
		return err
	}
	k.ensured[topic] = true
	return nil
}

// Publish 以节点 ID 为键发布，同一节点的消息落在同一分区
func (k *Kafka) Publish(_ context.Context, channel, key string, data []byte) error {
	k.mu.Lock()
	if k.producer == nil {
		if err := k.ensureTopic(channel); err != nil {
			k.mu.Unlock()
			return err
		}
		p, err := sarama.NewSyncProducer(k.cfg.Brokers, k.config)
		if err != nil {
			k.mu.Unlock()
			return err
		}
		k.producer = p
	}
	producer := k.producer
	k.mu.Unlock()

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic: channel,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

// Subscribe 为每个分区启动一个消费者
func (k *Kafka) Subscribe(ctx context.Context, channel string, ready func(), deliver func([]byte)) error {
	k.mu.Lock()
	err := k.ensureTopic(channel)
	k.mu.Unlock()
	if err != nil {
		return err
	}

	consumer, err := sarama.NewConsumer(k.cfg.Brokers, k.config)
	if err != nil {
		return err
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(channel)
	if err != nil {
		return err
	}

	pcs := make([]sarama.PartitionConsumer, 0, len(partitions))
	defer func() {
		for _, pc := range pcs {
			pc.AsyncClose()
		}
	}()
	for _, p := range partitions {
		pc, err := consumer.ConsumePartition(channel, p, sarama.OffsetNewest)
		if err != nil {
			return err
		}
		pcs = append(pcs, pc)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	failed := make(chan error, len(pcs))

	var wg sync.WaitGroup
	for _, pc := range pcs {
		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			for {
				select {
				case <-subCtx.Done():
					return
				case msg, ok := <-pc.Messages():
					if !ok {
						failed <- ErrSubscriptionLost
						return
					}
					deliver(msg.Value)
				case cerr, ok := <-pc.Errors():
					if !ok {
						failed <- ErrSubscriptionLost
						return
					}
					failed <- ErrSubscriptionLost.WithError(cerr)
					return
				}
			}
		}(pc)
	}
	ready()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-failed:
	}
	cancel()
	wg.Wait()
	return err
}

// Close 关闭生产者
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.producer != nil {
		err := k.producer.Close()
		k.producer = nil
		return err
	}
	return nil
}
