package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики записи и жизненного цикла заказов.
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	itemsCreated    prometheus.Counter
	createFailed    *prometheus.CounterVec
	createDuration  prometheus.Histogram
	reservations    prometheus.Counter
	statusChanges   *prometheus.CounterVec
	outboxEnqueued  *prometheus.CounterVec
	softDeleteCalls *prometheus.CounterVec
}

// NewOrderMetrics регистрирует метрики в глобальном реестре Prometheus.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pod_orders_created_total",
			Help: "Total number of orders committed by the order writer",
		})),
		itemsCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pod_order_items_created_total",
			Help: "Total number of order line items committed",
		})),
		createFailed: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pod_order_create_failed_total",
			Help: "Total number of aborted order creations grouped by reason",
		}, []string{"reason"})),
		createDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pod_order_create_duration_seconds",
			Help:    "Duration of the order creation transaction in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		})),
		reservations: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pod_sequence_reservations_total",
			Help: "Total number of sequence numbers reserved for order names",
		})),
		statusChanges: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pod_order_status_changes_total",
			Help: "Total number of order status transitions grouped by target status",
		}, []string{"to"})),
		outboxEnqueued: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pod_outbox_events_enqueued_total",
			Help: "Total number of events written to the transactional outbox",
		}, []string{"event_type"})),
		softDeleteCalls: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pod_order_soft_delete_total",
			Help: "Total number of order soft delete and restore operations",
		}, []string{"op"})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordOrderCreated фиксирует успешно созданный заказ и число его позиций.
func (m *OrderMetrics) RecordOrderCreated(items int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.itemsCreated.Add(float64(items))
	m.createDuration.Observe(duration.Seconds())
}

// RecordOrderCreateFailed фиксирует откат создания заказа.
func (m *OrderMetrics) RecordOrderCreateFailed(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.createFailed.WithLabelValues(reason).Inc()
	m.createDuration.Observe(duration.Seconds())
}

// RecordSequenceReserved увеличивает счётчик выданных номеров.
func (m *OrderMetrics) RecordSequenceReserved() {
	if m == nil {
		return
	}
	m.reservations.Inc()
}

// RecordStatusChange фиксирует переход статуса.
func (m *OrderMetrics) RecordStatusChange(to string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(to).Inc()
}

// RecordOutboxEnqueued фиксирует событие, записанное в outbox.
func (m *OrderMetrics) RecordOutboxEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.outboxEnqueued.WithLabelValues(eventType).Inc()
}

// RecordSoftDelete фиксирует удаление ("delete") или восстановление ("restore").
func (m *OrderMetrics) RecordSoftDelete(op string) {
	if m == nil {
		return
	}
	m.softDeleteCalls.WithLabelValues(op).Inc()
}
