package domain

import "time"

// Base содержит общие поля всех сущностей: идентичность, аудит и метку мягкого удаления.
//
// ID генерируется репозиторием, если не задан. CreatedAt/UpdatedAt проставляет
// только репозиторий. DeletedAt != nil означает, что запись мягко удалена и
// исключается из всех чтений, подсчётов и обновлений по умолчанию.
type Base struct {
	ID        string     `bun:"id,pk" json:"id"`
	CreatedAt time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
	DeletedAt *time.Time `bun:"deleted_at" json:"deletedAt,omitempty"`
}

// EntityBase возвращает указатель на базовые поля, чтобы репозиторий мог работать с ними обобщённо.
func (b *Base) EntityBase() *Base { return b }

// IsDeleted сообщает, помечена ли запись как удалённая.
func (b *Base) IsDeleted() bool { return b.DeletedAt != nil }

// Entity реализуют все агрегаты, которые хранятся через обобщённый репозиторий.
type Entity interface {
	EntityBase() *Base
}
