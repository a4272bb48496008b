package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
// Ключ сообщения - id агрегата, поэтому события одного заказа попадают в
// одну партицию и читаются по порядку.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Topic возвращает топик публикации.
func (p *OutboxTopicPublisher) Topic() string { return p.topic }

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	envelope := Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		OccurredAt:    msg.CreatedAt.UTC(),
		PublishedAt:   time.Now().UTC(),
	}
	headers := map[string]string{
		HeaderEventType:     msg.EventType,
		HeaderAggregateType: msg.AggregateType,
		HeaderAggregateID:   msg.AggregateID,
		HeaderOutboxID:      msg.ID,
	}
	return p.producer.PublishEvent(ctx, p.topic, key, envelope, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
