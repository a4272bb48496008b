package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// OrderStatus описывает жизненный цикл заказа и его позиций.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, все артворки на месте, ждёт обработки.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusNoArtwork — хотя бы у одной позиции нет фронтального артворка.
	OrderStatusNoArtwork OrderStatus = "no_artwork"
	// OrderStatusProcessing — заказ принят в работу.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusArtworkError — фабрика отклонила артворк.
	OrderStatusArtworkError OrderStatus = "artwork_error"
	// OrderStatusInProduction — заказ передан на фабрику.
	OrderStatusInProduction OrderStatus = "in_production"
	OrderStatusProduced     OrderStatus = "produced"
	OrderStatusShipped      OrderStatus = "shipped"
	OrderStatusDelivered    OrderStatus = "delivered"
	OrderStatusCompleted    OrderStatus = "completed"
	OrderStatusCancelled    OrderStatus = "cancelled"
	OrderStatusRefunded     OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:      {OrderStatusProcessing, OrderStatusNoArtwork, OrderStatusArtworkError, OrderStatusCancelled},
	OrderStatusNoArtwork:    {OrderStatusPending, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusArtworkError: {OrderStatusPending, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:   {OrderStatusInProduction, OrderStatusArtworkError, OrderStatusCancelled},
	OrderStatusInProduction: {OrderStatusProduced, OrderStatusCancelled},
	OrderStatusProduced:     {OrderStatusShipped},
	OrderStatusShipped:      {OrderStatusDelivered},
	OrderStatusDelivered:    {OrderStatusCompleted, OrderStatusRefunded},
	OrderStatusCompleted:    {OrderStatusRefunded},
	OrderStatusCancelled:    {OrderStatusRefunded},
}

// Valid сообщает, известен ли статус.
func (s OrderStatus) Valid() bool {
	if s == OrderStatusRefunded {
		return true
	}
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo проверяет, разрешён ли переход в статус next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ShippingAddress — адрес доставки, хранится в заказе как JSON.
type ShippingAddress struct {
	Name       string `json:"name"`
	Company    string `json:"company,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

// OrderLog — запись журнала изменений статуса. Журнал только дополняется.
type OrderLog struct {
	From  OrderStatus `json:"from,omitempty"`
	To    OrderStatus `json:"to"`
	Actor string      `json:"actor,omitempty"`
	Note  string      `json:"note,omitempty"`
	At    time.Time   `json:"at"`
}

// Order агрегирует состояние заказа. Позиции хранятся отдельно и
// подгружаются в LineItems через populate.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o" json:"-"`
	Base

	OwnerID         string          `bun:"owner_id,notnull,unique:orders_owner_external_uq" json:"ownerId"`
	StoreCode       string          `bun:"store_code,notnull" json:"storeCode"`
	ExternalID      string          `bun:"external_id,nullzero,unique:orders_owner_external_uq" json:"externalId,omitempty"`
	Name            string          `bun:"name,notnull,unique" json:"name"`
	ShippingAddress ShippingAddress `bun:"shipping_address" json:"shippingAddress"`
	Status          OrderStatus     `bun:"status,notnull" json:"status"`
	IsPaid          bool            `bun:"is_paid,notnull" json:"isPaid"`
	Currency        string          `bun:"currency,notnull" json:"currency"`
	SubTotal        int64           `bun:"sub_total,notnull" json:"subTotal"`
	Total           int64           `bun:"total,notnull" json:"total"`
	Logs            []OrderLog      `bun:"logs" json:"logs"`
	LineItemIDs     []string        `bun:"line_item_ids" json:"lineItemIds"`

	LineItems []OrderItem `bun:"-" json:"lineItems,omitempty"`
}

// AppendLog добавляет запись в журнал статусов.
func (o *Order) AppendLog(entry OrderLog) {
	o.Logs = append(o.Logs, entry)
}

// OrderItem — позиция заказа со снимком данных каталога на момент создания.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi" json:"-"`
	Base

	OrderID   string `bun:"order_id,notnull" json:"orderId"`
	ProductID string `bun:"product_id,notnull" json:"productId"`
	VariantID string `bun:"variant_id,notnull" json:"variantId"`

	ProductTitle string            `bun:"product_title" json:"productTitle"`
	ProductCode  string            `bun:"product_code" json:"productCode"`
	VariantTitle string            `bun:"variant_title" json:"variantTitle"`
	VariantCode  string            `bun:"variant_code" json:"variantCode"`
	Price        int64             `bun:"price,notnull" json:"price"`
	Options      map[string]string `bun:"options" json:"options,omitempty"`

	Barcode        string      `bun:"barcode,notnull,unique" json:"barcode"`
	Quantity       int32       `bun:"quantity,notnull" json:"quantity"`
	Status         OrderStatus `bun:"status,notnull" json:"status"`
	FrontArtworkID string      `bun:"front_artwork_id,nullzero" json:"frontArtworkId,omitempty"`
	BackArtworkID  string      `bun:"back_artwork_id,nullzero" json:"backArtworkId,omitempty"`
	MockupIDs      []string    `bun:"mockup_ids" json:"mockupIds,omitempty"`
	SubTotal       int64       `bun:"sub_total,notnull" json:"subTotal"`
	Total          int64       `bun:"total,notnull" json:"total"`

	Order   *Order          `bun:"-" json:"order,omitempty"`
	Product *Product        `bun:"-" json:"product,omitempty"`
	Variant *ProductVariant `bun:"-" json:"variant,omitempty"`
}

// HasFrontArtwork сообщает, есть ли у позиции фронтальный артворк.
func (i *OrderItem) HasFrontArtwork() bool { return i.FrontArtworkID != "" }
