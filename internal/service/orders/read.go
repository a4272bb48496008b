package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/storage"
	"github.com/vladislavdragonenkov/podoms/internal/storage/repository"
)

// GetOrder возвращает живой заказ с позициями и их продуктами и вариантами.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.repos.Orders.FindOneByID(ctx, orderID, repository.WithPopulate(repository.ExplicitJoin(
		repository.Join{
			Path: storage.PathLineItems,
			Populate: []repository.Join{
				{Path: storage.PathProduct, IncludeDeleted: true},
				{Path: storage.PathVariant, IncludeDeleted: true},
			},
		},
	)))
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListOrdersQuery - фильтр и страница списка заказов. Page начинается с 1.
type ListOrdersQuery struct {
	OwnerID      string
	StoreCode    string
	Statuses     []domain.OrderStatus
	Page         int
	Limit        int
	IncludeItems bool
}

// ListOrdersResult - страница заказов и общее число подходящих записей.
type ListOrdersResult struct {
	Orders []domain.Order `json:"orders"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

// ListOrders возвращает страницу заказов, новые первыми.
func (s *Service) ListOrders(ctx context.Context, q ListOrdersQuery) (ListOrdersResult, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	page := max(q.Page, 1)

	var filters []repository.Filter
	if q.OwnerID != "" {
		filters = append(filters, repository.Eq("owner_id", q.OwnerID))
	}
	if q.StoreCode != "" {
		filters = append(filters, repository.Eq("store_code", q.StoreCode))
	}
	if len(q.Statuses) > 0 {
		filters = append(filters, repository.In("status", q.Statuses))
	}

	populate := repository.NoJoin()
	if q.IncludeItems {
		populate = repository.DefaultJoin()
	}

	orders, total, err := s.repos.Orders.FindAllAndCount(ctx, repository.And(filters...),
		repository.WithSort(repository.Desc("created_at")),
		repository.WithPaging(repository.SkipForPage(page, limit), limit),
		repository.WithPopulate(populate),
	)
	if err != nil {
		return ListOrdersResult{}, fmt.Errorf("list orders: %w", err)
	}
	return ListOrdersResult{Orders: orders, Total: total, Page: page, Limit: limit}, nil
}

// ArtworkPreview - ссылки на изображение для превью позиции.
type ArtworkPreview struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	PreviewURL string `json:"previewUrl,omitempty"`
}

// ItemPreview - позиция заказа вместе со ссылками на артворки.
type ItemPreview struct {
	ID             string             `bun:"id" json:"id"`
	OrderID        string             `bun:"order_id" json:"orderId"`
	Barcode        string             `bun:"barcode" json:"barcode"`
	ProductTitle   string             `bun:"product_title" json:"productTitle"`
	VariantTitle   string             `bun:"variant_title" json:"variantTitle"`
	Quantity       int32              `bun:"quantity" json:"quantity"`
	Status         domain.OrderStatus `bun:"status" json:"status"`
	FrontArtworkID string             `bun:"front_artwork_id" json:"frontArtworkId,omitempty"`
	BackArtworkID  string             `bun:"back_artwork_id" json:"backArtworkId,omitempty"`
	MockupIDs      []string           `bun:"mockup_ids" json:"-"`
	FrontURL       string             `bun:"front_url" json:"frontUrl,omitempty"`
	FrontPreview   string             `bun:"front_preview_url" json:"frontPreviewUrl,omitempty"`
	BackURL        string             `bun:"back_url" json:"backUrl,omitempty"`
	BackPreview    string             `bun:"back_preview_url" json:"backPreviewUrl,omitempty"`
	CreatedAt      time.Time          `bun:"created_at" json:"createdAt"`
	DeletedAt      *time.Time         `bun:"deleted_at" json:"-"`

	Mockups []ArtworkPreview `bun:"-" json:"mockups,omitempty"`
}

// itemPreviewPipeline соединяет позиции с фронтальным и тыльным артворком.
// Удалённые артворки не показываются, сама позиция при этом остаётся.
func itemPreviewPipeline(db bun.IDB) *bun.SelectQuery {
	return db.NewSelect().
		TableExpr("order_items AS oi").
		ColumnExpr("oi.id, oi.order_id, oi.barcode, oi.product_title, oi.variant_title").
		ColumnExpr("oi.quantity, oi.status, oi.front_artwork_id, oi.back_artwork_id, oi.mockup_ids").
		ColumnExpr("fa.url AS front_url, fa.preview_url AS front_preview_url").
		ColumnExpr("ba.url AS back_url, ba.preview_url AS back_preview_url").
		ColumnExpr("oi.created_at, oi.deleted_at").
		Join("LEFT JOIN artworks AS fa ON fa.id = oi.front_artwork_id AND fa.deleted_at IS NULL").
		Join("LEFT JOIN artworks AS ba ON ba.id = oi.back_artwork_id AND ba.deleted_at IS NULL")
}

// ListItemPreviews возвращает превью позиций заказа в порядке LineItemIDs.
// Мокапы подгружаются одним запросом на все позиции.
func (s *Service) ListItemPreviews(ctx context.Context, orderID string) ([]ItemPreview, error) {
	order, err := s.repos.Orders.FindOneByID(ctx, orderID, repository.WithSelect("line_item_ids"))
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	previews := make([]ItemPreview, 0, len(order.LineItemIDs))
	if err := s.repos.Items.RawFindAll(ctx, &previews, itemPreviewPipeline,
		repository.Eq("order_id", orderID),
		repository.WithSort(repository.Asc("created_at")),
	); err != nil {
		return nil, fmt.Errorf("load item previews: %w", err)
	}

	if err := s.attachMockups(ctx, previews); err != nil {
		return nil, err
	}
	return sortByLineItems(previews, order.LineItemIDs), nil
}

func (s *Service) attachMockups(ctx context.Context, previews []ItemPreview) error {
	var ids []string
	seen := make(map[string]struct{})
	for _, p := range previews {
		for _, id := range p.MockupIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	artworks, err := s.repos.Artworks.FindAll(ctx, repository.In("id", ids))
	if err != nil {
		return fmt.Errorf("load mockups: %w", err)
	}
	byID := make(map[string]domain.Artwork, len(artworks))
	for _, a := range artworks {
		byID[a.ID] = a
	}

	for i := range previews {
		for _, id := range previews[i].MockupIDs {
			if a, ok := byID[id]; ok {
				previews[i].Mockups = append(previews[i].Mockups, ArtworkPreview{ID: a.ID, URL: a.URL, PreviewURL: a.PreviewURL})
			}
		}
	}
	return nil
}

func sortByLineItems(previews []ItemPreview, order []string) []ItemPreview {
	if len(order) == 0 {
		return previews
	}
	byID := make(map[string]ItemPreview, len(previews))
	for _, p := range previews {
		byID[p.ID] = p
	}
	out := make([]ItemPreview, 0, len(previews))
	for _, id := range order {
		if p, ok := byID[id]; ok {
			out = append(out, p)
			delete(byID, id)
		}
	}
	for _, p := range previews {
		if _, ok := byID[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}
