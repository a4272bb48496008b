package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/storage/repository"
)

// ItemInput - позиция во входных данных создания заказа.
type ItemInput struct {
	ProductID      string   `json:"productId"`
	VariantID      string   `json:"variantId"`
	Quantity       int32    `json:"quantity"`
	FrontArtworkID string   `json:"frontArtworkId,omitempty"`
	BackArtworkID  string   `json:"backArtworkId,omitempty"`
	MockupIDs      []string `json:"mockupIds,omitempty"`
}

// CreateOrderInput - данные для создания заказа.
type CreateOrderInput struct {
	OwnerID         string                 `json:"ownerId"`
	StoreCode       string                 `json:"storeCode"`
	ExternalID      string                 `json:"externalId,omitempty"`
	Currency        string                 `json:"currency,omitempty"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	Items           []ItemInput            `json:"items"`
	Actor           string                 `json:"actor,omitempty"`
}

func (in CreateOrderInput) validate() error {
	if strings.TrimSpace(in.OwnerID) == "" {
		return domain.ErrOwnerRequired
	}
	if strings.TrimSpace(in.StoreCode) == "" {
		return domain.ErrStoreCodeRequired
	}
	if len(in.Items) == 0 {
		return domain.ErrItemsRequired
	}
	for i, item := range in.Items {
		if item.ProductID == "" || item.VariantID == "" {
			return fmt.Errorf("item %d: %w", i, domain.ErrItemReferenceRequired)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d: %w", i, domain.ErrItemQtyInvalid)
		}
	}
	return nil
}

// catalogSnapshot - разрешённые продукт и вариант позиции.
type catalogSnapshot struct {
	product *domain.Product
	variant *domain.ProductVariant
}

// CreateOrder создаёт заказ и все его позиции одной транзакцией: резервирует
// номер в счётчике магазина, формирует имя заказа и штрихкоды позиций,
// фиксирует снимок каталога и ставит событие order.created в outbox.
// Любая ошибка откатывает всю транзакцию, включая резервирование номера.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	started := time.Now()
	logger := s.logger.WithFields(log.Fields{
		"store_code": in.StoreCode,
		"owner_id":   in.OwnerID,
		"items":      len(in.Items),
	})

	if err := in.validate(); err != nil {
		s.metrics.RecordOrderCreateFailed(failureReason(err), time.Since(started))
		return nil, err
	}

	var created *domain.Order
	err := repository.RunInTx(ctx, s.repos.DB, func(ctx context.Context, sess *repository.Session) error {
		snapshots, err := s.resolveCatalog(ctx, sess, in.Items)
		if err != nil {
			return err
		}

		seq, err := s.repos.Sequences.ReserveNext(ctx, s.cfg.CounterPrefix+in.StoreCode, sess)
		if err != nil {
			return err
		}
		s.metrics.RecordSequenceReserved()

		order, items := s.buildOrder(in, seq, snapshots)

		if _, err := s.repos.Items.CreateMany(ctx, items, repository.WithSession(sess)); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		if created, err = s.repos.Orders.Create(ctx, order, repository.WithSession(sess)); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		event := domain.NewOrderEvent(domain.EventOrderCreated, created, s.now())
		event.Actor = in.Actor
		return s.enqueue(ctx, sess, domain.EventOrderCreated, event)
	})
	if err != nil {
		s.metrics.RecordOrderCreateFailed(failureReason(err), time.Since(started))
		logger.WithError(err).Warn("order creation failed")
		return nil, err
	}

	s.metrics.RecordOrderCreated(len(in.Items), time.Since(started))
	logger.WithFields(log.Fields{
		"order_id": created.ID,
		"name":     created.Name,
		"status":   created.Status,
	}).Info("order created")
	return created, nil
}

// resolveCatalog загружает продукты и варианты позиций двумя запросами и
// проверяет, что каждый вариант принадлежит своему продукту.
func (s *Service) resolveCatalog(ctx context.Context, sess *repository.Session, items []ItemInput) ([]catalogSnapshot, error) {
	productIDs := make([]string, 0, len(items))
	variantIDs := make([]string, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
		variantIDs = append(variantIDs, item.VariantID)
	}

	products, err := s.repos.Products.FindAll(ctx, repository.In("id", productIDs), repository.WithSession(sess))
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	variants, err := s.repos.Variants.FindAll(ctx, repository.In("id", variantIDs), repository.WithSession(sess))
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}

	productByID := make(map[string]*domain.Product, len(products))
	for i := range products {
		productByID[products[i].ID] = &products[i]
	}
	variantByID := make(map[string]*domain.ProductVariant, len(variants))
	for i := range variants {
		variantByID[variants[i].ID] = &variants[i]
	}

	out := make([]catalogSnapshot, len(items))
	for i, item := range items {
		product, ok := productByID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("item %d: product %s: %w", i, item.ProductID, domain.ErrInvalidReference)
		}
		variant, ok := variantByID[item.VariantID]
		if !ok || variant.ProductID != product.ID {
			return nil, fmt.Errorf("item %d: variant %s: %w", i, item.VariantID, domain.ErrInvalidReference)
		}
		out[i] = catalogSnapshot{product: product, variant: variant}
	}
	return out, nil
}

// buildOrder собирает заказ и позиции с заранее выданными id, чтобы
// LineItemIDs был известен до вставки.
func (s *Service) buildOrder(in CreateOrderInput, seq int64, snapshots []catalogSnapshot) (*domain.Order, []domain.OrderItem) {
	name := in.StoreCode + "-" + strconv.FormatInt(seq, 10)
	orderID := uuid.NewString()

	status := domain.OrderStatusPending
	items := make([]domain.OrderItem, len(in.Items))
	lineItemIDs := make([]string, len(in.Items))
	var total int64

	for i, input := range in.Items {
		snap := snapshots[i]
		itemStatus := domain.OrderStatusPending
		if input.FrontArtworkID == "" {
			itemStatus = domain.OrderStatusNoArtwork
			status = domain.OrderStatusNoArtwork
		}

		// Сумма позиции равна цене варианта, количество в неё не входит.
		price := snap.variant.Price
		items[i] = domain.OrderItem{
			Base:           domain.Base{ID: uuid.NewString()},
			OrderID:        orderID,
			ProductID:      snap.product.ID,
			VariantID:      snap.variant.ID,
			ProductTitle:   snap.product.Title,
			ProductCode:    snap.product.Code,
			VariantTitle:   snap.variant.Title,
			VariantCode:    snap.variant.Code,
			Price:          price,
			Options:        copyOptions(snap.variant.Options),
			Barcode:        s.cfg.BarcodePrefix + name + "-" + strconv.Itoa(i+1),
			Quantity:       input.Quantity,
			Status:         itemStatus,
			FrontArtworkID: input.FrontArtworkID,
			BackArtworkID:  input.BackArtworkID,
			MockupIDs:      input.MockupIDs,
			SubTotal:       price,
			Total:          price,
		}
		lineItemIDs[i] = items[i].ID
		total += price
	}

	currency := in.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	order := &domain.Order{
		Base:            domain.Base{ID: orderID},
		OwnerID:         in.OwnerID,
		StoreCode:       in.StoreCode,
		ExternalID:      in.ExternalID,
		Name:            name,
		ShippingAddress: in.ShippingAddress,
		Status:          status,
		Currency:        currency,
		SubTotal:        total,
		Total:           total,
		LineItemIDs:     lineItemIDs,
	}
	order.AppendLog(domain.OrderLog{To: status, Actor: in.Actor, Note: "order created", At: s.now().UTC()})
	return order, items
}

func copyOptions(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// failureReason классифицирует ошибку для метрик.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrOwnerRequired),
		errors.Is(err, domain.ErrStoreCodeRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemReferenceRequired):
		return "validation"
	case errors.Is(err, domain.ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, domain.ErrDuplicateKey):
		return "duplicate_key"
	default:
		return "internal"
	}
}

// IsValidationError сообщает, что ошибка вызвана некорректными входными данными.
func IsValidationError(err error) bool {
	return failureReason(err) == "validation" || errors.Is(err, domain.ErrInvalidReference)
}
