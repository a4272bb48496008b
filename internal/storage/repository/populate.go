package repository

import (
	"context"
	"fmt"
	"slices"

	"github.com/uptrace/bun"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
)

type populateMode int

const (
	populateNone populateMode = iota
	populateDefault
	populateExplicit
)

// Populate - режим подгрузки связей: NoJoin, DefaultJoin или ExplicitJoin.
// Разрешается один раз в начале каждой операции.
type Populate struct {
	mode  populateMode
	joins []Join
}

// NoJoin - без подгрузки связей (значение по умолчанию).
func NoJoin() Populate { return Populate{} }

// DefaultJoin использует Config.DefaultJoin репозитория. Если он не настроен,
// операция завершится ошибкой domain.ErrProgramming.
func DefaultJoin() Populate { return Populate{mode: populateDefault} }

// ExplicitJoin подгружает перечисленные связи.
func ExplicitJoin(joins ...Join) Populate {
	return Populate{mode: populateExplicit, joins: joins}
}

// Join описывает одну связь: путь, проекцию цели и вложенные связи.
type Join struct {
	Path           string
	Select         []string
	Populate       []Join
	IncludeDeleted bool
}

// Reference описывает, как разрешить связь для пачки записей E одним запросом.
// columns - поля родителя, без которых связь не разрешить; они добавляются
// к проекции WithSelect.
type Reference[E any] struct {
	resolve  func(ctx context.Context, db bun.IDB, items []E, join Join) error
	validate func(joins []Join) error
	columns  []string
}

// HasMany - связь "один ко многим": дочерние T ссылаются на родителя через foreignKey.
func HasMany[E any, T any, PT EntityPtr[T]](
	target *Repository[T, PT],
	foreignKey string,
	parentKey func(*E) string,
	childKey func(*T) string,
	assign func(*E, []T),
) Reference[E] {
	return Reference[E]{
		validate: target.validateJoins,
		resolve: func(ctx context.Context, db bun.IDB, items []E, join Join) error {
			keys := distinct(items, parentKey)
			if len(keys) == 0 {
				return nil
			}

			o := joinOptions(join, foreignKey)
			children, err := target.find(ctx, db, In(foreignKey, keys), o, join.Populate)
			if err != nil {
				return fmt.Errorf("populate %s: %w", join.Path, err)
			}

			groups := make(map[string][]T, len(keys))
			for i := range children {
				k := childKey(&children[i])
				groups[k] = append(groups[k], children[i])
			}
			for i := range items {
				assign(&items[i], groups[parentKey(&items[i])])
			}
			return nil
		},
	}
}

// BelongsTo - ссылка на одну запись T по её id. column - поле E, хранящее
// этот id; ref читает его значение.
func BelongsTo[E any, T any, PT EntityPtr[T]](
	target *Repository[T, PT],
	column string,
	ref func(*E) string,
	assign func(*E, *T),
) Reference[E] {
	return Reference[E]{
		validate: target.validateJoins,
		columns:  []string{column},
		resolve: func(ctx context.Context, db bun.IDB, items []E, join Join) error {
			ids := distinct(items, ref)
			if len(ids) == 0 {
				return nil
			}

			o := joinOptions(join, columnID)
			targets, err := target.find(ctx, db, In(columnID, ids), o, join.Populate)
			if err != nil {
				return fmt.Errorf("populate %s: %w", join.Path, err)
			}

			byID := make(map[string]*T, len(targets))
			for i := range targets {
				byID[PT(&targets[i]).EntityBase().ID] = &targets[i]
			}
			for i := range items {
				if t, ok := byID[ref(&items[i])]; ok {
					assign(&items[i], t)
				}
			}
			return nil
		},
	}
}

// Register добавляет связь по пути. Вызывается при сборке зависимостей, до первого запроса.
func (r *Repository[E, P]) Register(path string, ref Reference[E]) *Repository[E, P] {
	r.refs[path] = ref
	return r
}

// resolveJoins превращает режим Populate в список связей и проверяет его целиком
// до первого обращения к базе.
func (r *Repository[E, P]) resolveJoins(p Populate) ([]Join, error) {
	var joins []Join
	switch p.mode {
	case populateNone:
		return nil, nil
	case populateDefault:
		if len(r.cfg.DefaultJoin) == 0 {
			return nil, fmt.Errorf("%w: populate requested without a default join", domain.ErrProgramming)
		}
		joins = r.cfg.DefaultJoin
	case populateExplicit:
		if len(p.joins) == 0 {
			return nil, fmt.Errorf("%w: explicit populate without joins", domain.ErrProgramming)
		}
		joins = p.joins
	}

	if err := r.validateJoins(joins); err != nil {
		return nil, err
	}
	return joins, nil
}

func (r *Repository[E, P]) validateJoins(joins []Join) error {
	for _, j := range joins {
		ref, ok := r.refs[j.Path]
		if !ok {
			return fmt.Errorf("%w: unknown populate path %q", domain.ErrProgramming, j.Path)
		}
		if len(j.Populate) > 0 {
			if err := ref.validate(j.Populate); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repository[E, P]) populate(ctx context.Context, db bun.IDB, items []E, joins []Join) error {
	if len(items) == 0 {
		return nil
	}
	for _, j := range joins {
		if err := r.refs[j.Path].resolve(ctx, db, items, j); err != nil {
			return err
		}
	}
	return nil
}

// projection дополняет выборку id и полями, нужными подгружаемым связям.
func (r *Repository[E, P]) projection(selects []string, joins []Join) []string {
	out := slices.Clone(withID(selects))
	for _, j := range joins {
		for _, c := range r.refs[j.Path].columns {
			if !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

func joinOptions(join Join, key string) *options {
	o := &options{
		includeDeleted: join.IncludeDeleted,
		sort:           []Sort{Asc(columnCreatedAt)},
	}
	if len(join.Select) > 0 {
		o.selects = append(append([]string{}, join.Select...), key)
	}
	return o
}

func distinct[E any](items []E, key func(*E) string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for i := range items {
		k := key(&items[i])
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
