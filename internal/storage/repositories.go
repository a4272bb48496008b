package storage

import (
	"github.com/uptrace/bun"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/storage/repository"
	"github.com/vladislavdragonenkov/podoms/internal/storage/sequence"
)

// Пути связей, доступные для populate.
const (
	PathLineItems = "lineItems"
	PathOrder     = "order"
	PathProduct   = "product"
	PathVariant   = "variant"
	PathVariants  = "variants"
)

type (
	OrderRepository   = repository.Repository[domain.Order, *domain.Order]
	ItemRepository    = repository.Repository[domain.OrderItem, *domain.OrderItem]
	ProductRepository = repository.Repository[domain.Product, *domain.Product]
	VariantRepository = repository.Repository[domain.ProductVariant, *domain.ProductVariant]
	ArtworkRepository = repository.Repository[domain.Artwork, *domain.Artwork]
	OutboxMessages    = repository.Repository[domain.OutboxMessage, *domain.OutboxMessage]
)

// Repositories собирает репозитории всех сущностей поверх одного bun.DB и
// регистрирует связи между ними.
type Repositories struct {
	DB        *bun.DB
	Orders    *OrderRepository
	Items     *ItemRepository
	Products  *ProductRepository
	Variants  *VariantRepository
	Artworks  *ArtworkRepository
	Outbox    *OutboxMessages
	Sequences *sequence.Store
}

// NewRepositories создаёт набор репозиториев. Снимки каталога в позициях
// подгружаются и для удалённых продуктов: позиция ссылается на них навсегда.
func NewRepositories(db *bun.DB) *Repositories {
	r := &Repositories{
		DB: db,
		Orders: repository.New[domain.Order](db, repository.Config{
			DefaultJoin: []repository.Join{{Path: PathLineItems}},
		}),
		Items: repository.New[domain.OrderItem](db, repository.Config{
			DefaultJoin: []repository.Join{
				{Path: PathProduct, IncludeDeleted: true},
				{Path: PathVariant, IncludeDeleted: true},
			},
		}),
		Products:  repository.New[domain.Product](db, repository.Config{}),
		Variants:  repository.New[domain.ProductVariant](db, repository.Config{}),
		Artworks:  repository.New[domain.Artwork](db, repository.Config{}),
		Outbox:    repository.New[domain.OutboxMessage](db, repository.Config{}),
		Sequences: sequence.NewStore(db),
	}

	r.Orders.Register(PathLineItems, repository.HasMany(
		r.Items,
		"order_id",
		func(o *domain.Order) string { return o.ID },
		func(i *domain.OrderItem) string { return i.OrderID },
		assignLineItems,
	))
	r.Items.Register(PathOrder, repository.BelongsTo(
		r.Orders,
		"order_id",
		func(i *domain.OrderItem) string { return i.OrderID },
		func(i *domain.OrderItem, o *domain.Order) { i.Order = o },
	))
	r.Items.Register(PathProduct, repository.BelongsTo(
		r.Products,
		"product_id",
		func(i *domain.OrderItem) string { return i.ProductID },
		func(i *domain.OrderItem, p *domain.Product) { i.Product = p },
	))
	r.Items.Register(PathVariant, repository.BelongsTo(
		r.Variants,
		"variant_id",
		func(i *domain.OrderItem) string { return i.VariantID },
		func(i *domain.OrderItem, v *domain.ProductVariant) { i.Variant = v },
	))
	r.Variants.Register(PathProduct, repository.BelongsTo(
		r.Products,
		"product_id",
		func(v *domain.ProductVariant) string { return v.ProductID },
		func(v *domain.ProductVariant, p *domain.Product) { v.Product = p },
	))
	r.Products.Register(PathVariants, repository.HasMany(
		r.Variants,
		"product_id",
		func(p *domain.Product) string { return p.ID },
		func(v *domain.ProductVariant) string { return v.ProductID },
		func(p *domain.Product, vs []domain.ProductVariant) { p.Variants = vs },
	))

	return r
}

// assignLineItems раскладывает позиции в порядке Order.LineItemIDs.
func assignLineItems(o *domain.Order, items []domain.OrderItem) {
	if len(o.LineItemIDs) == 0 {
		o.LineItems = items
		return
	}
	byID := make(map[string]domain.OrderItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	ordered := make([]domain.OrderItem, 0, len(items))
	for _, id := range o.LineItemIDs {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
		}
	}
	o.LineItems = ordered
}
