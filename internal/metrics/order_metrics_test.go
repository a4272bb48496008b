package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()

	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	var m dto.Metric
	for metric := range ch {
		if err := metric.Write(&m); err != nil {
			t.Fatalf("write metric: %v", err)
		}
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric")
	}
	return m.Counter.GetValue()
}

func TestOrderMetricsRecordCreation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordOrderCreated(3, 20*time.Millisecond)
	m.RecordOrderCreated(1, 5*time.Millisecond)
	m.RecordSequenceReserved()

	if got := counterValue(t, m.ordersCreated); got != 2 {
		t.Fatalf("expected 2 orders, got %v", got)
	}
	if got := counterValue(t, m.itemsCreated); got != 4 {
		t.Fatalf("expected 4 items, got %v", got)
	}
	if got := counterValue(t, m.reservations); got != 1 {
		t.Fatalf("expected 1 reservation, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var histogramCount uint64
	for _, family := range families {
		if family.GetName() == "pod_order_create_duration_seconds" {
			histogramCount = family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	if histogramCount != 2 {
		t.Fatalf("expected 2 duration samples, got %d", histogramCount)
	}
}

func TestOrderMetricsLabelledCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordOrderCreateFailed("invalid_reference", time.Millisecond)
	m.RecordStatusChange("processing")
	m.RecordStatusChange("processing")
	m.RecordOutboxEnqueued("order.created")
	m.RecordSoftDelete("delete")

	if got := counterValue(t, m.createFailed.WithLabelValues("invalid_reference")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := counterValue(t, m.statusChanges.WithLabelValues("processing")); got != 2 {
		t.Fatalf("expected 2 status changes, got %v", got)
	}
	if got := counterValue(t, m.outboxEnqueued.WithLabelValues("order.created")); got != 1 {
		t.Fatalf("expected 1 outbox event, got %v", got)
	}
	if got := counterValue(t, m.softDeleteCalls.WithLabelValues("delete")); got != 1 {
		t.Fatalf("expected 1 soft delete, got %v", got)
	}
}

func TestOrderMetricsReRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordSequenceReserved()
	second.RecordSequenceReserved()

	if got := counterValue(t, first.reservations); got != 2 {
		t.Fatalf("expected shared collector with value 2, got %v", got)
	}
}

func TestOrderMetricsNilReceiver(t *testing.T) {
	var m *OrderMetrics
	m.RecordOrderCreated(1, time.Millisecond)
	m.RecordOrderCreateFailed("x", time.Millisecond)
	m.RecordSequenceReserved()
	m.RecordStatusChange("pending")
	m.RecordOutboxEnqueued("order.created")
	m.RecordSoftDelete("restore")
}
