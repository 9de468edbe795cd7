package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

// messageWriter kafka.Writer 用到的部分，測試時替換
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 把帳本事件寫進 Kafka
// 預設一個事件類型一個 topic (credits.transferred ...)，可用 topicByEvent 改名
// key 是參與者 id，同一參與者的事件保持順序
type KafkaSink struct {
	writer       messageWriter
	topicByEvent map[domain.EventType]string
}

func NewKafkaSink(brokers []string, topicByEvent map[domain.EventType]string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topicByEvent: topicByEvent,
	}, nil
}

func (s *KafkaSink) Deliver(ctx context.Context, event domain.LedgerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	topic := string(event.Type)
	if mapped, ok := s.topicByEvent[event.Type]; ok && mapped != "" {
		topic = mapped
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(event.PartitionKey()),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "idempotency_key", Value: []byte(event.IdempotencyKey)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
