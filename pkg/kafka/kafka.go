package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaConfig 配置
type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// Producer 生产者
type Producer struct {
	syncProducer sarama.SyncProducer
}

// Consumer 消费者
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	ready   chan struct{}
	Handler ConsumerHandler
}

// ConsumerHandler 消息处理
type ConsumerHandler interface {
	HandleMessage(msg *sarama.ConsumerMessage) error
}

// InitProducer 初始化生产者
func InitProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Partitioner = sarama.NewHashPartitioner
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &Producer{syncProducer: producer}, nil
}

// NewProducer 使用已有的 SyncProducer（测试可传入 mocks）
func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{syncProducer: p}
}

// SendMessage 发送消息，同一 key 落在同一分区
func (p *Producer) SendMessage(topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := p.syncProducer.SendMessage(msg); err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.syncProducer.Close()
}

// InitConsumer 初始化消费者
func InitConsumer(cfg KafkaConfig, handler ConsumerHandler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		group:   group,
		topics:  cfg.Topics,
		ready:   make(chan struct{}),
		Handler: handler,
	}, nil
}

// Consume 阻塞消费直到 ctx 结束
func (c *Consumer) Consume(ctx context.Context) error {
	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close 关闭消费者组
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup sarama.ConsumerGroupHandler
func (c *Consumer) Setup(_ sarama.ConsumerGroupSession) error {
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
	return nil
}

// Cleanup sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 消费消息
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := c.Handler.HandleMessage(msg); err == nil {
			sess.MarkMessage(msg, "")
		}
	}
	return nil
}
