package kafka

import (
	"encoding/json"
	"time"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "pod.order.events"
	TopicDeadLetterQueue = "pod.order.dlq"
)

// Заголовки сообщений; по ним потребители фильтруют события без разбора payload.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderAggregateID   = "x-aggregate-id"
	HeaderOutboxID      = "x-outbox-id"
)

// Envelope - формат сообщения в топике событий заказов.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}
