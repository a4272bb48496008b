package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound возвращается, если запись не найдена (или мягко удалена).
	ErrNotFound = errors.New("not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrDuplicateKey — нарушение ограничения уникальности в хранилище.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidReference — позиция ссылается на несуществующий продукт или вариант.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrTransactionAborted — транзакция откатилась, исходная причина завёрнута рядом.
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrProgramming — ошибка конфигурации кода (например, populate без настроенного default join).
	ErrProgramming = errors.New("programming error")

	// Ошибка отсутствующего кода магазина.
	ErrStoreCodeRequired = errors.New("store_code is required")
	// Ошибка отсутствующего владельца заказа.
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка отсутствующих product_id/variant_id у позиции.
	ErrItemReferenceRequired = errors.New("item product_id and variant_id are required")

	// ErrInvalidTransition — переход статуса не разрешён таблицей переходов.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOrderStatusConflict — статус заказа изменился параллельно (compare-and-set не прошёл).
	ErrOrderStatusConflict = errors.New("order status conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// DuplicateKeyError описывает нарушение уникальности с именем ограничения, если драйвер его сообщил.
type DuplicateKeyError struct {
	Constraint string
	Err        error
}

func (e *DuplicateKeyError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("duplicate key: %v", e.Err)
	}
	return fmt.Sprintf("duplicate key (%s): %v", e.Constraint, e.Err)
}

// Is позволяет сравнивать через errors.Is(err, ErrDuplicateKey).
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

func (e *DuplicateKeyError) Unwrap() error { return e.Err }

// IsNotFound проверяет, относится ли ошибка к отсутствующей записи.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey проверяет, является ли ошибка нарушением уникальности.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}
