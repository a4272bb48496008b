package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
)

// EntityPtr ограничивает параметр P указателем на сущность с базовыми полями.
type EntityPtr[E any] interface {
	*E
	EntityBase() *domain.Base
}

// Config - параметры репозитория, задаются при сборке.
type Config struct {
	// DefaultJoin используется при WithPopulate(DefaultJoin()).
	DefaultJoin []Join
	// Now - источник времени для меток аудита; по умолчанию time.Now.
	Now func() time.Time
	// NewID генерирует id для новых записей; по умолчанию UUID v4.
	NewID func() string
}

// Repository - обобщённый CRUD над одной сущностью с обязательным учётом
// мягкого удаления во всех операциях.
type Repository[E any, P EntityPtr[E]] struct {
	db   *bun.DB
	cfg  Config
	refs map[string]Reference[E]
}

// New создаёт репозиторий для сущности E поверх bun.DB.
func New[E any, P EntityPtr[E]](db *bun.DB, cfg Config) *Repository[E, P] {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Repository[E, P]{db: db, cfg: cfg, refs: make(map[string]Reference[E])}
}

// DB возвращает соединение, с которым создан репозиторий.
func (r *Repository[E, P]) DB() *bun.DB { return r.db }

func (r *Repository[E, P]) now() time.Time {
	return r.cfg.Now().UTC().Truncate(time.Microsecond)
}

// stampTime возвращает время операции: WithTimestamp или Config.Now.
func (r *Repository[E, P]) stampTime(o *options) time.Time {
	if o.at.IsZero() {
		return r.now()
	}
	return o.at.UTC().Truncate(time.Microsecond)
}

// FindAll возвращает живые записи, подходящие под фильтр.
func (r *Repository[E, P]) FindAll(ctx context.Context, f Filter, opts ...Option) ([]E, error) {
	o := collect(opts)
	joins, err := r.resolveJoins(o.populate)
	if err != nil {
		return nil, err
	}
	return r.find(ctx, o.conn(r.db), o.narrow(f), o, joins)
}

// FindAllAndCount возвращает страницу записей и общее число подходящих записей.
// Счётчик считается отдельным запросом с тем же фильтром, без пагинации.
func (r *Repository[E, P]) FindAllAndCount(ctx context.Context, f Filter, opts ...Option) ([]E, int, error) {
	o := collect(opts)
	joins, err := r.resolveJoins(o.populate)
	if err != nil {
		return nil, 0, err
	}

	db := o.conn(r.db)
	f = o.narrow(f)
	items, err := r.find(ctx, db, f, o, joins)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.count(ctx, db, f, o.readGuard())
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Count возвращает число подходящих записей.
func (r *Repository[E, P]) Count(ctx context.Context, f Filter, opts ...Option) (int, error) {
	o := collect(opts)
	return r.count(ctx, o.conn(r.db), o.narrow(f), o.readGuard())
}

// FindOne возвращает первую подходящую запись или nil, если её нет.
func (r *Repository[E, P]) FindOne(ctx context.Context, f Filter, opts ...Option) (*E, error) {
	o := collect(opts)
	joins, err := r.resolveJoins(o.populate)
	if err != nil {
		return nil, err
	}

	o.limit = 1
	items, err := r.find(ctx, o.conn(r.db), o.narrow(f), o, joins)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// FindOneByID возвращает запись по id или nil.
func (r *Repository[E, P]) FindOneByID(ctx context.Context, id string, opts ...Option) (*E, error) {
	return r.FindOne(ctx, Eq(columnID, id), opts...)
}

// Exists проверяет наличие живой записи; WithExcludeIDs исключает "себя".
func (r *Repository[E, P]) Exists(ctx context.Context, f Filter, opts ...Option) (bool, error) {
	o := collect(opts)
	q := o.conn(r.db).NewSelect().Model((*E)(nil))
	q = scope(q, "", o.narrow(f), o.readGuard())
	ok, err := q.Exists(ctx)
	if err != nil {
		return false, NormalizeError(err)
	}
	return ok, nil
}

// Create вставляет запись, проставляя id (если пуст) и метки времени.
func (r *Repository[E, P]) Create(ctx context.Context, e *E, opts ...Option) (*E, error) {
	o := collect(opts)
	r.stamp(P(e), r.now())
	if _, err := o.conn(r.db).NewInsert().Model(e).Exec(ctx); err != nil {
		return nil, NormalizeError(err)
	}
	return e, nil
}

// CreateMany вставляет пачку записей одним запросом. Пустой список ничего не делает.
func (r *Repository[E, P]) CreateMany(ctx context.Context, items []E, opts ...Option) (bool, error) {
	if len(items) == 0 {
		return false, nil
	}
	o := collect(opts)
	now := r.now()
	for i := range items {
		r.stamp(P(&items[i]), now)
	}
	if _, err := o.conn(r.db).NewInsert().Model(&items).Exec(ctx); err != nil {
		return false, NormalizeError(err)
	}
	return true, nil
}

// FindOneByIDAndUpdate применяет patch к живой записи и возвращает её
// состояние после обновления за один запрос (UPDATE ... RETURNING).
// nil без ошибки означает, что живой записи с таким id нет.
func (r *Repository[E, P]) FindOneByIDAndUpdate(ctx context.Context, id string, patch Patch, opts ...Option) (*E, error) {
	o := collect(opts)
	joins, err := r.resolveJoins(o.populate)
	if err != nil {
		return nil, err
	}
	assignments, err := patch.assignments()
	if err != nil {
		return nil, err
	}

	db := o.conn(r.db)
	e := new(E)
	q, err := applyAssignments(db.NewUpdate().Model(e), assignments, r.stampTime(o))
	if err != nil {
		return nil, err
	}
	q = scope(q, "", o.narrow(Eq(columnID, id)), o.readGuard())
	if _, err := q.Returning("*").Exec(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, NormalizeError(err)
	}
	if P(e).EntityBase().ID == "" {
		return nil, nil
	}

	items := []E{*e}
	if err := r.populate(ctx, db, items, joins); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// UpdateMany применяет patch ко всем подходящим живым записям.
func (r *Repository[E, P]) UpdateMany(ctx context.Context, f Filter, patch Patch, opts ...Option) (bool, error) {
	assignments, err := patch.assignments()
	if err != nil {
		return false, err
	}
	return r.UpdateManyRaw(ctx, f, assignments, opts...)
}

// UpdateManyRaw - как UpdateMany, но присваивания могут быть SQL-выражениями.
func (r *Repository[E, P]) UpdateManyRaw(ctx context.Context, f Filter, assignments []Assignment, opts ...Option) (bool, error) {
	o := collect(opts)
	q, err := applyAssignments(o.conn(r.db).NewUpdate().Model((*E)(nil)), assignments, r.stampTime(o))
	if err != nil {
		return false, err
	}
	q = scope(q, "", o.narrow(f), o.readGuard())
	return affected(q.Exec(ctx))
}

// SoftDelete помечает удалённой одну живую запись, подходящую под фильтр.
// Уже удалённые записи не трогаются, повторный вызов ничего не меняет.
func (r *Repository[E, P]) SoftDelete(ctx context.Context, f Filter, opts ...Option) (bool, error) {
	return r.markDeleted(ctx, f, true, guardLive, opts)
}

// SoftDeleteByID помечает удалённой запись по id.
func (r *Repository[E, P]) SoftDeleteByID(ctx context.Context, id string, opts ...Option) (bool, error) {
	return r.markDeleted(ctx, Eq(columnID, id), false, guardLive, opts)
}

// SoftDeleteManyByIDs помечает удалёнными записи по списку id.
func (r *Repository[E, P]) SoftDeleteManyByIDs(ctx context.Context, ids []string, opts ...Option) (bool, error) {
	return r.markDeleted(ctx, In(columnID, ids), false, guardLive, opts)
}

// SoftDeleteMany помечает удалёнными все подходящие живые записи.
func (r *Repository[E, P]) SoftDeleteMany(ctx context.Context, f Filter, opts ...Option) (bool, error) {
	return r.markDeleted(ctx, f, false, guardLive, opts)
}

// Restore снимает пометку удаления с одной удалённой записи.
func (r *Repository[E, P]) Restore(ctx context.Context, f Filter, opts ...Option) (bool, error) {
	return r.markDeleted(ctx, f, true, guardDeleted, opts)
}

// RestoreManyByIDs снимает пометку удаления с записей по списку id.
func (r *Repository[E, P]) RestoreManyByIDs(ctx context.Context, ids []string, opts ...Option) (bool, error) {
	return r.markDeleted(ctx, In(columnID, ids), false, guardDeleted, opts)
}

// RestoreMany снимает пометку удаления со всех подходящих удалённых записей.
func (r *Repository[E, P]) RestoreMany(ctx context.Context, f Filter, opts ...Option) (bool, error) {
	return r.markDeleted(ctx, f, false, guardDeleted, opts)
}

// markDeleted ставит или снимает deleted_at. Гард фиксирован: удаление
// видит только живые записи, восстановление только удалённые.
func (r *Repository[E, P]) markDeleted(ctx context.Context, f Filter, single bool, g guard, opts []Option) (bool, error) {
	o := collect(opts)
	db := o.conn(r.db)
	now := r.stampTime(o)
	f = o.narrow(f)

	q := db.NewUpdate().Model((*E)(nil))
	if g == guardLive {
		q = q.Set("? = ?", bun.Ident(columnDeletedAt), now)
	} else {
		q = q.Set("? = NULL", bun.Ident(columnDeletedAt))
	}
	q = q.Set("? = ?", bun.Ident(columnUpdatedAt), now)

	if single {
		sub := db.NewSelect().Model((*E)(nil)).Column(columnID)
		sub = scope(sub, "", f, g).Limit(1)
		q = q.Where("? IN (?)", bun.Ident(columnID), sub)
	}
	q = scope(q, "", f, g)
	return affected(q.Exec(ctx))
}

func (r *Repository[E, P]) find(ctx context.Context, db bun.IDB, f Filter, o *options, joins []Join) ([]E, error) {
	items := make([]E, 0)
	q := db.NewSelect().Model(&items)
	if len(o.selects) > 0 {
		q = q.Column(r.projection(o.selects, joins)...)
	}
	q = scope(q, "", f, o.readGuard())
	q = applySort(q, "", o)
	q = applyPage(q, o)

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, NormalizeError(err)
	}
	if err := r.populate(ctx, db, items, joins); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Repository[E, P]) count(ctx context.Context, db bun.IDB, f Filter, g guard) (int, error) {
	q := db.NewSelect().Model((*E)(nil))
	q = scope(q, "", f, g)
	n, err := q.Count(ctx)
	if err != nil {
		return 0, NormalizeError(err)
	}
	return n, nil
}

func (r *Repository[E, P]) stamp(e P, now time.Time) {
	base := e.EntityBase()
	if base.ID == "" {
		base.ID = r.cfg.NewID()
	}
	base.CreatedAt = now
	base.UpdatedAt = now
	base.DeletedAt = nil
}

func applySort(q *bun.SelectQuery, qualifier string, o *options) *bun.SelectQuery {
	for _, s := range o.sort {
		dir := SortAsc
		if s.Direction == SortDesc {
			dir = SortDesc
		}
		col, args := column(qualifier, s.Field)
		q = q.OrderExpr(col+" "+string(dir), args...)
	}
	if len(o.sort) > 0 || o.paged() {
		// Стабильный порядок страниц при равных ключах сортировки.
		col, args := column(qualifier, columnID)
		q = q.OrderExpr(col+" ASC", args...)
	}
	return q
}

func applyPage(q *bun.SelectQuery, o *options) *bun.SelectQuery {
	if o.limit > 0 {
		q = q.Limit(o.limit)
	}
	if o.skip > 0 {
		q = q.Offset(o.skip)
	}
	return q
}

func withID(fields []string) []string {
	for _, f := range fields {
		if f == columnID {
			return fields
		}
	}
	return append([]string{columnID}, fields...)
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, NormalizeError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
