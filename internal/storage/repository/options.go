package repository

import (
	"time"

	"github.com/uptrace/bun"
)

// SortDirection - направление сортировки.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// Sort - одна колонка сортировки.
type Sort struct {
	Field     string
	Direction SortDirection
}

func Asc(field string) Sort  { return Sort{Field: field, Direction: SortAsc} }
func Desc(field string) Sort { return Sort{Field: field, Direction: SortDesc} }

// Option настраивает отдельный вызов репозитория.
type Option func(*options)

type options struct {
	session        *Session
	selects        []string
	populate       Populate
	sort           []Sort
	skip           int
	limit          int
	includeDeleted bool
	excludeIDs     []string
	at             time.Time
}

func collect(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithSession выполняет вызов внутри транзакции. nil означает самостоятельный вызов.
func WithSession(s *Session) Option {
	return func(o *options) { o.session = s }
}

// WithSelect ограничивает набор колонок. id добавляется всегда.
func WithSelect(fields ...string) Option {
	return func(o *options) { o.selects = append(o.selects, fields...) }
}

// WithPopulate подгружает связанные сущности после основного запроса.
func WithPopulate(p Populate) Option {
	return func(o *options) { o.populate = p }
}

func WithSort(sorts ...Sort) Option {
	return func(o *options) { o.sort = append(o.sort, sorts...) }
}

// WithPaging задаёт смещение и лимит. limit <= 0 отключает лимит.
func WithPaging(skip, limit int) Option {
	return func(o *options) {
		o.skip = skip
		o.limit = limit
	}
}

// WithIncludeDeleted отключает фильтр мягкого удаления для чтений и обновлений.
func WithIncludeDeleted() Option {
	return func(o *options) { o.includeDeleted = true }
}

// WithExcludeIDs исключает записи с указанными id (проверки уникальности "кроме себя").
func WithExcludeIDs(ids ...string) Option {
	return func(o *options) { o.excludeIDs = append(o.excludeIDs, ids...) }
}

// WithTimestamp задаёт время для updated_at и deleted_at вместо Config.Now.
// Один и тот же момент у нескольких вызовов связывает записи одной операции.
func WithTimestamp(at time.Time) Option {
	return func(o *options) { o.at = at }
}

// SkipForPage переводит номер страницы (с 1) в смещение.
func SkipForPage(page, limit int) int {
	if page < 1 || limit <= 0 {
		return 0
	}
	return (page - 1) * limit
}

func (o *options) conn(db bun.IDB) bun.IDB {
	if o.session != nil {
		return o.session.tx
	}
	return db
}

func (o *options) readGuard() guard {
	if o.includeDeleted {
		return guardAny
	}
	return guardLive
}

// narrow добавляет к фильтру исключение id, если оно задано.
func (o *options) narrow(f Filter) Filter {
	if len(o.excludeIDs) == 0 {
		return f
	}
	return And(f, NotIn(columnID, o.excludeIDs))
}

func (o *options) paged() bool { return o.limit > 0 || o.skip > 0 }
