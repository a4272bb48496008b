package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics - метрики публикации transactional outbox.
type OutboxMetrics struct {
	publishAttempts *prometheus.CounterVec
	pending         prometheus.Gauge
	oldestAge       prometheus.Gauge
	cleanupRuns     *prometheus.CounterVec
	archived        prometheus.Counter
	lastArchived    prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики в глобальном реестре Prometheus.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		publishAttempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pod_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"})),
		pending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pod_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		})),
		oldestAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pod_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		})),
		cleanupRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pod_outbox_cleanup_runs_total",
			Help: "Total number of outbox retention runs grouped by result",
		}, []string{"result"})),
		archived: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pod_outbox_archived_total",
			Help: "Total number of sent outbox records archived by retention",
		})),
		lastArchived: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pod_outbox_cleanup_last_archived",
			Help: "Number of records archived during the last retention run",
		})),
	}
}

// RecordPublish фиксирует результат попытки: sent, retry_error, failed, dlq_failed, held.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самого старого сообщения.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestAge.Set(0)
		return
	}
	m.oldestAge.Set(max(now.Sub(oldest).Seconds(), 0))
}

// RecordCleanup фиксирует прогон retention: result = ok или error.
func (m *OutboxMetrics) RecordCleanup(result string, archived int) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
	if result != "ok" {
		return
	}
	m.archived.Add(float64(archived))
	m.lastArchived.Set(float64(archived))
}
