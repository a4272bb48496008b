package repository

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/uptrace/bun"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
)

// Patch - набор присваиваний "колонка = значение". Срезы, карты и структуры
// сохраняются как JSON, как и поля моделей.
type Patch map[string]any

// Assignment - одно присваивание; Expr задаёт SQL-выражение вместо значения.
type Assignment struct {
	Field string
	Value any
	Expr  string
	Args  []any
}

// Set - присваивание значения.
func Set(field string, value any) Assignment {
	return Assignment{Field: field, Value: value}
}

// SetExpr - присваивание SQL-выражения, например SetExpr("attempts", "attempts + ?", 1).
func SetExpr(field, expr string, args ...any) Assignment {
	return Assignment{Field: field, Expr: expr, Args: args}
}

var protectedColumns = map[string]struct{}{
	columnID:        {},
	columnCreatedAt: {},
	columnDeletedAt: {},
}

func (p Patch) assignments() ([]Assignment, error) {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Assignment, 0, len(keys))
	for _, k := range keys {
		v, err := encodeValue(p[k])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		out = append(out, Set(k, v))
	}
	return out, nil
}

// applyAssignments добавляет SET-выражения и всегда обновляет updated_at.
// id, created_at и deleted_at меняются только самим репозиторием.
func applyAssignments(q *bun.UpdateQuery, assignments []Assignment, now time.Time) (*bun.UpdateQuery, error) {
	touched := false
	for _, a := range assignments {
		if _, ok := protectedColumns[a.Field]; ok {
			return nil, fmt.Errorf("%w: column %q is managed by the repository", domain.ErrProgramming, a.Field)
		}
		if a.Field == columnUpdatedAt {
			touched = true
		}
		if a.Expr != "" {
			q = q.Set("? = "+a.Expr, append([]any{bun.Ident(a.Field)}, a.Args...)...)
			continue
		}
		q = q.Set("? = ?", bun.Ident(a.Field), a.Value)
	}
	if !touched {
		q = q.Set("? = ?", bun.Ident(columnUpdatedAt), now)
	}
	return q, nil
}

func encodeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v.(type) {
	case []byte, time.Time, *time.Time:
		return v, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Struct, reflect.Array:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
	return rv.Interface(), nil
}
