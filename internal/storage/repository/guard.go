package repository

const (
	columnID        = "id"
	columnCreatedAt = "created_at"
	columnUpdatedAt = "updated_at"
	columnDeletedAt = "deleted_at"
)

// guard выбирает, какие записи видит запрос с точки зрения мягкого удаления.
type guard int

const (
	guardLive guard = iota
	guardDeleted
	guardAny
)

type whereQuery[Q any] interface {
	Where(query string, args ...any) Q
}

// scope - единственное место, где к запросу добавляются фильтр и предикат
// мягкого удаления. Все типизированные и raw-методы проходят через него.
func scope[Q whereQuery[Q]](q Q, qualifier string, f Filter, g guard) Q {
	constrained := false
	if query, args, ok := f.compile(qualifier); ok {
		q = q.Where(query, args...)
		constrained = true
	}

	switch g {
	case guardLive:
		query, args := deletedPredicate(qualifier, "IS NULL")
		q = q.Where(query, args...)
		constrained = true
	case guardDeleted:
		query, args := deletedPredicate(qualifier, "IS NOT NULL")
		q = q.Where(query, args...)
		constrained = true
	}

	if !constrained {
		// UPDATE без WHERE bun отклоняет.
		q = q.Where("1 = 1")
	}
	return q
}

func deletedPredicate(qualifier, test string) (string, []any) {
	col, args := column(qualifier, columnDeletedAt)
	return col + " " + test, args
}
