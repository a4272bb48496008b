package repository

import (
	"strings"

	"github.com/uptrace/bun"
)

type filterOp int

const (
	opAll filterOp = iota
	opEq
	opNe
	opIn
	opNotIn
	opGt
	opGte
	opLt
	opLte
	opIsNull
	opNotNull
	opAnd
	opOr
)

var comparisons = map[filterOp]string{
	opEq:  "=",
	opNe:  "<>",
	opGt:  ">",
	opGte: ">=",
	opLt:  "<",
	opLte: "<=",
}

// Filter - структурный предикат над колонками сущности. Нулевое значение
// совпадает со всеми записями. Один и тот же компилятор рендерит фильтр для
// типизированных и raw-запросов.
type Filter struct {
	op     filterOp
	field  string
	value  any
	values []any
	nodes  []Filter
}

// All возвращает пустой фильтр.
func All() Filter { return Filter{} }

// Eq - равенство. Значение nil превращается в IS NULL.
func Eq(field string, value any) Filter {
	if value == nil {
		return IsNull(field)
	}
	return Filter{op: opEq, field: field, value: value}
}

func Ne(field string, value any) Filter {
	if value == nil {
		return NotNull(field)
	}
	return Filter{op: opNe, field: field, value: value}
}

func Gt(field string, value any) Filter  { return Filter{op: opGt, field: field, value: value} }
func Gte(field string, value any) Filter { return Filter{op: opGte, field: field, value: value} }
func Lt(field string, value any) Filter  { return Filter{op: opLt, field: field, value: value} }
func Lte(field string, value any) Filter { return Filter{op: opLte, field: field, value: value} }

func IsNull(field string) Filter  { return Filter{op: opIsNull, field: field} }
func NotNull(field string) Filter { return Filter{op: opNotNull, field: field} }

// In - принадлежность множеству. Пустое множество не совпадает ни с чем.
func In[T any](field string, values []T) Filter {
	return Filter{op: opIn, field: field, values: toAny(values)}
}

// NotIn - исключение множества. Пустое множество не ограничивает выборку.
func NotIn[T any](field string, values []T) Filter {
	return Filter{op: opNotIn, field: field, values: toAny(values)}
}

// And объединяет условия через AND, пропуская пустые.
func And(filters ...Filter) Filter { return Filter{op: opAnd, nodes: filters} }

// Or объединяет условия через OR. Если хотя бы одна ветка пустая, результат тоже пустой.
func Or(filters ...Filter) Filter { return Filter{op: opOr, nodes: filters} }

// IsZero сообщает, что фильтр не накладывает ограничений.
func (f Filter) IsZero() bool {
	_, _, ok := f.compile("")
	return !ok
}

// compile рендерит фильтр в SQL-фрагмент с плейсхолдерами bun. ok=false
// означает, что фильтр ничего не ограничивает. qualifier задаёт алиас таблицы
// для колонок (используется raw-путём).
func (f Filter) compile(qualifier string) (query string, args []any, ok bool) {
	switch f.op {
	case opAll:
		return "", nil, false
	case opEq, opNe, opGt, opGte, opLt, opLte:
		col, args := column(qualifier, f.field)
		return col + " " + comparisons[f.op] + " ?", append(args, f.value), true
	case opIsNull:
		col, args := column(qualifier, f.field)
		return col + " IS NULL", args, true
	case opNotNull:
		col, args := column(qualifier, f.field)
		return col + " IS NOT NULL", args, true
	case opIn:
		if len(f.values) == 0 {
			return "1 = 0", nil, true
		}
		col, args := column(qualifier, f.field)
		return col + " IN (?)", append(args, bun.In(f.values)), true
	case opNotIn:
		if len(f.values) == 0 {
			return "", nil, false
		}
		col, args := column(qualifier, f.field)
		return col + " NOT IN (?)", append(args, bun.In(f.values)), true
	case opAnd, opOr:
		return f.compileGroup(qualifier)
	}
	return "", nil, false
}

func (f Filter) compileGroup(qualifier string) (string, []any, bool) {
	sep := " AND "
	if f.op == opOr {
		sep = " OR "
	}

	var (
		parts []string
		args  []any
	)
	for _, node := range f.nodes {
		query, nodeArgs, ok := node.compile(qualifier)
		if !ok {
			if f.op == opOr {
				// Ветка без ограничений делает всю дизъюнкцию тривиальной.
				return "", nil, false
			}
			continue
		}
		parts = append(parts, query)
		args = append(args, nodeArgs...)
	}
	if len(parts) == 0 {
		return "", nil, false
	}
	return "(" + strings.Join(parts, sep) + ")", args, true
}

func column(qualifier, field string) (string, []any) {
	if qualifier != "" {
		return "?.?", []any{bun.Ident(qualifier), bun.Ident(field)}
	}
	return "?", []any{bun.Ident(field)}
}

func toAny[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
