package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/storage/repository"
)

// OutboxStore - transactional outbox поверх обобщённого репозитория.
type OutboxStore struct {
	messages *OutboxMessages
}

// NewOutboxStore создаёт outbox-хранилище.
func NewOutboxStore(messages *OutboxMessages) *OutboxStore {
	return &OutboxStore{messages: messages}
}

// Enqueue сохраняет событие; с сессией оно фиксируется вместе с изменением агрегата.
func (s *OutboxStore) Enqueue(ctx context.Context, msg domain.OutboxMessage, session *repository.Session) (domain.OutboxMessage, error) {
	msg.Status = domain.OutboxStatusPending
	created, err := s.messages.Create(ctx, &msg, repository.WithSession(session))
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return *created, nil
}

// PullPending возвращает самые старые pending-сообщения.
func (s *OutboxStore) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	msgs, err := s.messages.FindAll(ctx, pending(),
		repository.WithSort(repository.Asc("created_at")),
		repository.WithPaging(0, limit),
	)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	return msgs, nil
}

// List возвращает сообщения в статусе status, старые первыми.
func (s *OutboxStore) List(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxMessage, error) {
	msgs, err := s.messages.FindAll(ctx, repository.Eq("status", status),
		repository.WithSort(repository.Asc("created_at")),
		repository.WithPaging(0, limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s outbox messages: %w", status, err)
	}
	return msgs, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (s *OutboxStore) Stats(ctx context.Context) (domain.OutboxStats, error) {
	count, err := s.messages.Count(ctx, pending())
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	stats := domain.OutboxStats{PendingCount: count}
	if count == 0 {
		return stats, nil
	}

	oldest, err := s.messages.FindOne(ctx, pending(),
		repository.WithSelect("created_at"),
		repository.WithSort(repository.Asc("created_at")),
	)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox oldest pending query failed: %w", err)
	}
	if oldest != nil {
		stats.OldestPendingAt = oldest.CreatedAt.UTC()
	}
	return stats, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, domain.OutboxStatusSent)
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, domain.OutboxStatusFailed)
}

// Requeue возвращает failed-сообщения в очередь и сбрасывает счётчик попыток.
func (s *OutboxStore) Requeue(ctx context.Context, ids ...string) (bool, error) {
	f := repository.Eq("status", domain.OutboxStatusFailed)
	if len(ids) > 0 {
		f = repository.And(f, repository.In("id", ids))
	}
	ok, err := s.messages.UpdateMany(ctx, f, repository.Patch{
		"status":   domain.OutboxStatusPending,
		"attempts": 0,
	})
	if err != nil {
		return false, fmt.Errorf("requeue outbox messages: %w", err)
	}
	return ok, nil
}

// ArchiveSent мягко удаляет порцию sent-сообщений, обновлённых раньше before.
// Архивные сообщения не видны ни воркеру, ни статистике.
func (s *OutboxStore) ArchiveSent(ctx context.Context, before time.Time, limit int) (int, error) {
	batch, err := s.messages.FindAll(ctx,
		repository.And(
			repository.Eq("status", domain.OutboxStatusSent),
			repository.Lt("updated_at", before.UTC()),
		),
		repository.WithSelect("id"),
		repository.WithSort(repository.Asc("updated_at")),
		repository.WithPaging(0, limit),
	)
	if err != nil {
		return 0, fmt.Errorf("select sent outbox messages: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	ids := make([]string, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}
	if _, err := s.messages.SoftDeleteManyByIDs(ctx, ids); err != nil {
		return 0, fmt.Errorf("archive sent outbox messages: %w", err)
	}
	return len(ids), nil
}

func (s *OutboxStore) markStatus(ctx context.Context, id string, status domain.OutboxStatus) error {
	ok, err := s.messages.UpdateManyRaw(ctx, repository.Eq("id", id), []repository.Assignment{
		repository.Set("status", status),
		repository.SetExpr("attempts", "attempts + 1"),
	})
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}
	if !ok {
		return domain.ErrOutboxPublish
	}
	return nil
}

func pending() repository.Filter {
	return repository.Eq("status", domain.OutboxStatusPending)
}

var (
	_ domain.OutboxRepository = (*OutboxStore)(nil)
	_ domain.OutboxArchiver   = (*OutboxStore)(nil)
)
