package domain

import "time"

// OrderEvent — полезная нагрузка событий заказа в outbox.
type OrderEvent struct {
	EventType      string      `json:"event_type"`
	OrderID        string      `json:"order_id"`
	Name           string      `json:"name"`
	OwnerID        string      `json:"owner_id"`
	StoreCode      string      `json:"store_code"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	IsPaid         bool        `json:"is_paid"`
	Total          int64       `json:"total"`
	Currency       string      `json:"currency"`
	ItemCount      int         `json:"item_count"`
	Actor          string      `json:"actor,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// NewOrderEvent собирает событие из текущего состояния заказа.
func NewOrderEvent(eventType string, order *Order, at time.Time) OrderEvent {
	return OrderEvent{
		EventType: eventType,
		OrderID:   order.ID,
		Name:      order.Name,
		OwnerID:   order.OwnerID,
		StoreCode: order.StoreCode,
		Status:    order.Status,
		IsPaid:    order.IsPaid,
		Total:     order.Total,
		Currency:  order.Currency,
		ItemCount: len(order.LineItemIDs),
		Timestamp: at.UTC(),
	}
}
