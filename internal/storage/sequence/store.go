package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/storage/repository"
)

const reserveQuery = `INSERT INTO ? (?, ?, ?, ?) VALUES (?, 1, ?, ?)
ON CONFLICT (?) DO UPDATE SET ? = ?.? + 1, ? = EXCLUDED.?
RETURNING ?`

// Store выдаёт монотонные номера по ключу. Единственный путь изменения seq.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

// NewStore создаёт хранилище счётчиков поверх bun.DB.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// ReserveNext атомарно создаёт счётчик со значением 1 или увеличивает
// существующий и возвращает новое значение. Выполняется одним запросом
// INSERT ... ON CONFLICT DO UPDATE ... RETURNING, поэтому конкурентные
// вызовы для одного ключа никогда не получат одинаковый номер. Внутри
// сессии резервирование откатывается вместе с ней.
func (s *Store) ReserveNext(ctx context.Context, key string, session *repository.Session) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("%w: empty sequence key", domain.ErrProgramming)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	table := bun.Ident("sequence_counters")
	var seq int64
	err := repository.Conn(s.db, session).NewRaw(reserveQuery,
		table, bun.Ident("key"), bun.Ident("seq"), bun.Ident("created_at"), bun.Ident("updated_at"),
		key, now, now,
		bun.Ident("key"),
		bun.Ident("seq"), table, bun.Ident("seq"),
		bun.Ident("updated_at"), bun.Ident("updated_at"),
		bun.Ident("seq"),
	).Scan(ctx, &seq)
	if err != nil {
		return 0, fmt.Errorf("reserve sequence %q: %w", key, repository.NormalizeError(err))
	}
	return seq, nil
}

// Current возвращает текущее значение счётчика без изменения; 0, если его ещё нет.
func (s *Store) Current(ctx context.Context, key string) (int64, error) {
	var counter domain.SequenceCounter
	err := s.db.NewSelect().Model(&counter).Where("? = ?", bun.Ident("key"), key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence %q: %w", key, err)
	}
	return counter.Seq, nil
}
