package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
)

const (
	pgUniqueViolation   = "23505"
	sqliteUniquePrefix  = "UNIQUE constraint failed"
	sqliteUniqueColumns = ": "
)

// NormalizeError приводит ошибки драйверов к доменным: нарушение
// уникальности становится *domain.DuplicateKeyError.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &domain.DuplicateKeyError{Constraint: pgErr.ConstraintName, Err: err}
	}

	msg := err.Error()
	if idx := strings.Index(msg, sqliteUniquePrefix); idx >= 0 {
		constraint := ""
		if rest := msg[idx+len(sqliteUniquePrefix):]; strings.HasPrefix(rest, sqliteUniqueColumns) {
			constraint = strings.TrimSpace(strings.TrimPrefix(rest, sqliteUniqueColumns))
		}
		return &domain.DuplicateKeyError{Constraint: constraint, Err: err}
	}
	return err
}
