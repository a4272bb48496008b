package repository

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
)

// Session - непрозрачный дескриптор транзакции. Передаётся в вызовы
// репозиториев и счётчика через WithSession.
type Session struct {
	tx bun.Tx
}

// DB возвращает транзакционное соединение для запросов вне репозитория.
func (s *Session) DB() bun.IDB { return s.tx }

// Conn выбирает соединение: транзакцию сессии или db, если сессии нет.
func Conn(db bun.IDB, s *Session) bun.IDB {
	if s == nil {
		return db
	}
	return s.tx
}

// RunInTx открывает транзакцию и передаёт сессию в fn. Успех фиксируется,
// любая ошибка откатывает всё и возвращается вместе с ErrTransactionAborted.
func RunInTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context, s *Session) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrTransactionAborted, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &Session{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Warn("transaction rollback failed")
		}
		return fmt.Errorf("%w: %w", domain.ErrTransactionAborted, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrTransactionAborted, NormalizeError(err))
	}
	return nil
}
