package orders

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/storage/repository"
)

// ChangeStatus переводит заказ в статус to. Переход проверяется по таблице
// переходов, запись делается compare-and-set по предыдущему статусу, чтобы
// параллельное изменение не затёрлось молча.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, to domain.OrderStatus, actor, note string) (*domain.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}

	var updated *domain.Order
	var from domain.OrderStatus
	err := repository.RunInTx(ctx, s.repos.DB, func(ctx context.Context, sess *repository.Session) error {
		order, err := s.repos.Orders.FindOneByID(ctx, orderID, repository.WithSession(sess))
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		from = order.Status
		if !from.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
		}

		order.AppendLog(domain.OrderLog{From: from, To: to, Actor: actor, Note: note, At: s.now().UTC()})
		ok, err := s.repos.Orders.UpdateMany(ctx,
			repository.And(repository.Eq("id", orderID), repository.Eq("status", from)),
			repository.Patch{"status": to, "logs": order.Logs},
			repository.WithSession(sess),
		)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if !ok {
			return domain.ErrOrderStatusConflict
		}

		if updated, err = s.repos.Orders.FindOneByID(ctx, orderID, repository.WithSession(sess)); err != nil {
			return fmt.Errorf("reload order: %w", err)
		}
		if updated == nil {
			return domain.ErrOrderNotFound
		}

		event := domain.NewOrderEvent(domain.EventOrderStatusChanged, updated, s.now())
		event.PreviousStatus = from
		event.Actor = actor
		return s.enqueue(ctx, sess, domain.EventOrderStatusChanged, event)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordStatusChange(string(to))
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     from,
		"to":       to,
	}).Info("order status changed")
	return updated, nil
}

// MarkPaid отмечает заказ оплаченным. Повторный вызов возвращает заказ без изменений.
func (s *Service) MarkPaid(ctx context.Context, orderID string) (*domain.Order, error) {
	var paid *domain.Order
	err := repository.RunInTx(ctx, s.repos.DB, func(ctx context.Context, sess *repository.Session) error {
		order, err := s.repos.Orders.FindOneByID(ctx, orderID, repository.WithSession(sess))
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if order.IsPaid {
			paid = order
			return nil
		}

		paid, err = s.repos.Orders.FindOneByIDAndUpdate(ctx, orderID,
			repository.Patch{"is_paid": true},
			repository.WithSession(sess),
		)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		if paid == nil {
			return domain.ErrOrderNotFound
		}
		return s.enqueue(ctx, sess, domain.EventOrderPaid, domain.NewOrderEvent(domain.EventOrderPaid, paid, s.now()))
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// DeleteOrder мягко удаляет заказ вместе с позициями. Повторное удаление
// ничего не меняет; ErrOrderNotFound только для неизвестного id.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	deleted := false
	err := repository.RunInTx(ctx, s.repos.DB, func(ctx context.Context, sess *repository.Session) error {
		order, err := s.repos.Orders.FindOneByID(ctx, orderID, repository.WithSession(sess), repository.WithIncludeDeleted())
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if order.IsDeleted() {
			return nil
		}
		deleted = true

		// Позиции и заказ получают один deleted_at: по нему RestoreOrder
		// отличает каскад от позиций, удалённых раньше по отдельности.
		at := repository.WithTimestamp(s.now())
		if _, err := s.repos.Items.SoftDeleteMany(ctx, repository.Eq("order_id", orderID), repository.WithSession(sess), at); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		if _, err := s.repos.Orders.SoftDeleteByID(ctx, orderID, repository.WithSession(sess), at); err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		return s.enqueue(ctx, sess, domain.EventOrderDeleted, domain.NewOrderEvent(domain.EventOrderDeleted, order, s.now()))
	})
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}

	s.metrics.RecordSoftDelete("delete")
	s.logger.WithField("order_id", orderID).Info("order deleted")
	return nil
}

// RestoreOrder восстанавливает удалённый заказ и позиции, удалённые вместе с
// ним. Позиции, удалённые раньше заказа, остаются удалёнными. Для живого
// заказа возвращает его без изменений.
func (s *Service) RestoreOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var (
		result   *domain.Order
		restored bool
	)
	err := repository.RunInTx(ctx, s.repos.DB, func(ctx context.Context, sess *repository.Session) error {
		restored = false
		order, err := s.repos.Orders.FindOneByID(ctx, orderID, repository.WithSession(sess), repository.WithIncludeDeleted())
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if order.IsDeleted() {
			deletedAt := *order.DeletedAt
			if _, err := s.repos.Orders.Restore(ctx, repository.Eq("id", orderID), repository.WithSession(sess)); err != nil {
				return fmt.Errorf("restore order: %w", err)
			}
			cascade := repository.And(
				repository.Eq("order_id", orderID),
				repository.Gte("deleted_at", deletedAt),
			)
			if _, err := s.repos.Items.RestoreMany(ctx, cascade, repository.WithSession(sess)); err != nil {
				return fmt.Errorf("restore order items: %w", err)
			}
			restored = true
		}

		if result, err = s.repos.Orders.FindOneByID(ctx, orderID,
			repository.WithSession(sess),
			repository.WithPopulate(repository.DefaultJoin()),
		); err != nil {
			return fmt.Errorf("reload order: %w", err)
		}
		if result == nil {
			return domain.ErrOrderNotFound
		}
		if !restored {
			return nil
		}
		return s.enqueue(ctx, sess, domain.EventOrderRestored, domain.NewOrderEvent(domain.EventOrderRestored, result, s.now()))
	})
	if err != nil {
		return nil, err
	}
	if !restored {
		return result, nil
	}

	s.metrics.RecordSoftDelete("restore")
	s.logger.WithField("order_id", orderID).Info("order restored")
	return result, nil
}
