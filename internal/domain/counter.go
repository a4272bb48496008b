package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// SequenceCounter — монотонный счётчик по ключу. Создаётся лениво при первом
// резервировании, не удаляется и меняется только атомарным инкрементом.
type SequenceCounter struct {
	bun.BaseModel `bun:"table:sequence_counters,alias:sc"`

	Key       string    `bun:"key,pk"`
	Seq       int64     `bun:"seq,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
