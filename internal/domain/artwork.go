package domain

import "github.com/uptrace/bun"

// ArtworkKind различает назначение изображения.
type ArtworkKind string

const (
	ArtworkKindFront  ArtworkKind = "front"
	ArtworkKindBack   ArtworkKind = "back"
	ArtworkKindMockup ArtworkKind = "mockup"
)

// Artwork — загруженное изображение. Записи создаёт подсистема загрузки,
// ядро только читает их на путях превью.
type Artwork struct {
	bun.BaseModel `bun:"table:artworks,alias:a" json:"-"`
	Base

	OwnerID    string      `bun:"owner_id" json:"ownerId,omitempty"`
	Kind       ArtworkKind `bun:"kind,notnull" json:"kind"`
	URL        string      `bun:"url,notnull" json:"url"`
	PreviewURL string      `bun:"preview_url" json:"previewUrl,omitempty"`
}
