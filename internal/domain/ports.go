package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// OutboxStatus описывает состояние сообщения transactional outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// Типы событий заказа, которые попадают в outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderPaid          = "order.paid"
	EventOrderDeleted       = "order.deleted"
	EventOrderRestored      = "order.restored"
)

// AggregateTypeOrder — тип агрегата для событий заказа.
const AggregateTypeOrder = "order"

// OutboxMessage хранит данные для публикуемого события. Пишется в той же
// сессии, что и изменение агрегата.
type OutboxMessage struct {
	bun.BaseModel `bun:"table:outbox_messages,alias:om" json:"-"`
	Base

	AggregateType string       `bun:"aggregate_type,notnull" json:"aggregateType"`
	AggregateID   string       `bun:"aggregate_id,notnull" json:"aggregateId"`
	EventType     string       `bun:"event_type,notnull" json:"eventType"`
	Payload       []byte       `bun:"payload" json:"payload"`
	Status        OutboxStatus `bun:"status,notnull" json:"status"`
	Attempts      int          `bun:"attempts,notnull" json:"attempts"`
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository выдаёт воркеру ожидающие события и фиксирует результат публикации.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxArchiver убирает из рабочей выборки давно отправленные сообщения.
type OutboxArchiver interface {
	// ArchiveSent архивирует не больше limit sent-сообщений старше before и возвращает их число.
	ArchiveSent(ctx context.Context, before time.Time, limit int) (int, error)
}
