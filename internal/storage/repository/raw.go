package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

const rawAlias = "raw"

// Pipeline строит произвольный подзапрос (например, с join по нескольким
// таблицам). Подзапрос обязан вернуть колонки корневой сущности, включая
// deleted_at: по ней применяется фильтр мягкого удаления.
type Pipeline func(db bun.IDB) *bun.SelectQuery

// Raw выполняет pipeline и сканирует результат в dest. Стадии добавляются в
// том же порядке, что и у типизированных методов: фильтр, гард, сортировка,
// страница. WithIncludeDeleted отключает гард.
func (r *Repository[E, P]) Raw(ctx context.Context, dest any, pipeline Pipeline, f Filter, opts ...Option) error {
	o := collect(opts)
	q := r.wrap(o.conn(r.db), pipeline, o.narrow(f), o)
	q = applySort(q, rawAlias, o)
	q = applyPage(q, o)
	return scanRaw(ctx, q, dest)
}

// RawFindAll выполняет pipeline как Raw; dest - указатель на срез строк.
func (r *Repository[E, P]) RawFindAll(ctx context.Context, dest any, pipeline Pipeline, f Filter, opts ...Option) error {
	return r.Raw(ctx, dest, pipeline, f, opts...)
}

// RawGetTotal считает строки pipeline после фильтра и гарда.
func (r *Repository[E, P]) RawGetTotal(ctx context.Context, pipeline Pipeline, f Filter, opts ...Option) (int, error) {
	o := collect(opts)
	db := o.conn(r.db)
	q := db.NewSelect().TableExpr("(?) AS ?", pipeline(db), bun.Ident(rawAlias))
	q = scope(q, rawAlias, o.narrow(f), o.readGuard())
	n, err := q.Count(ctx)
	if err != nil {
		return 0, NormalizeError(err)
	}
	return n, nil
}

func (r *Repository[E, P]) wrap(db bun.IDB, pipeline Pipeline, f Filter, o *options) *bun.SelectQuery {
	q := db.NewSelect().
		TableExpr("(?) AS ?", pipeline(db), bun.Ident(rawAlias)).
		ColumnExpr("?.*", bun.Ident(rawAlias))
	return scope(q, rawAlias, f, o.readGuard())
}

func scanRaw(ctx context.Context, q *bun.SelectQuery, dest any) error {
	if err := q.Scan(ctx, dest); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return NormalizeError(err)
	}
	return nil
}
