package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/go-redis/redis/v8"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"goim-comment/pkg/logger"
)

// Envelope 事件的统一编码：{id, kind, occurred_at, payload}
func Envelope(ev Event) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":          structpb.NewStringValue(ev.ID),
		"kind":        structpb.NewStringValue(string(ev.Kind)),
		"occurred_at": structpb.NewStringValue(ev.OccurredAt.UTC().Format(time.RFC3339Nano)),
		"payload":     structpb.NewStructValue(ev.Payload),
	}}
}

// MarshalJSON 事件的 JSON 编码
func MarshalJSON(ev Event) ([]byte, error) {
	return protojson.Marshal(Envelope(ev))
}

// LogSink 写结构化日志，SEND_NOTIFICATIONS 关闭时作为唯一接收方
type LogSink struct {
	logger logger.Logger
}

// NewLogSink 创建日志接收方
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

// Deliver 实现 Sink
func (s *LogSink) Deliver(ctx context.Context, ev Event) error {
	s.logger.Info(ctx, "Notification event",
		logger.F("kind", string(ev.Kind)),
		logger.F("event_id", ev.ID),
		logger.F("occurred_at", ev.OccurredAt),
		logger.F("payload", ev.Fields()))
	return nil
}

// Producer Kafka 生产者
type Producer interface {
	SendMessage(topic string, key, value []byte) error
}

// KafkaSink 事件写入 Kafka，value 为 protobuf 编码的 Struct
type KafkaSink struct {
	producer Producer
	topic    string
}

// NewKafkaSink 创建 Kafka 接收方
func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// Deliver 实现 Sink
func (s *KafkaSink) Deliver(_ context.Context, ev Event) error {
	value, err := proto.Marshal(Envelope(ev))
	if err != nil {
		return err
	}
	return s.producer.SendMessage(s.topic, []byte(PartitionKey(ev)), value)
}

// PartitionKey 同一评论或用户的事件落在同一分区
func PartitionKey(ev Event) string {
	fields := ev.Payload.GetFields()
	for _, k := range []string{"comment_id", "user_id"} {
		if v, ok := fields[k]; ok {
			if s := v.GetStringValue(); s != "" {
				return s
			}
		}
	}
	return string(ev.Kind)
}

// DecodeEnvelope 解码 KafkaSink 写入的消息
func DecodeEnvelope(value []byte) (*structpb.Struct, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(value, st); err != nil {
		return nil, err
	}
	return st, nil
}

// RedisSink 通过 pub/sub 广播事件，多实例部署时各实例的审核员推送共享同一频道
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink 创建 Redis 接收方
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Deliver 实现 Sink
func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	data, err := MarshalJSON(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

// ElasticsearchSink 审核事件写入索引，供后台检索
type ElasticsearchSink struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearchSink 创建 ElasticSearch 接收方
func NewElasticsearchSink(client *elasticsearch.Client, index string) *ElasticsearchSink {
	return &ElasticsearchSink{client: client, index: index}
}

// Deliver 实现 Sink
func (s *ElasticsearchSink) Deliver(ctx context.Context, ev Event) error {
	data, err := MarshalJSON(ev)
	if err != nil {
		return err
	}
	res, err := s.client.Index(s.index, bytes.NewReader(data),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(ev.ID),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index event %s: %s: %s", ev.ID, res.Status(), body)
	}
	return nil
}
