package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/metrics"
	"github.com/vladislavdragonenkov/podoms/internal/storage"
	"github.com/vladislavdragonenkov/podoms/internal/storage/repository"
)

const (
	defaultCounterPrefix = "BO"
	defaultBarcodePrefix = "BO"
	defaultCurrency      = "USD"
	defaultPageLimit     = 20
	maxPageLimit         = 100
)

// Config задаёт префиксы идентификаторов заказов.
type Config struct {
	// CounterPrefix + storeCode образуют ключ счётчика номеров.
	CounterPrefix string
	// BarcodePrefix добавляется перед именем заказа в штрихкоде позиции.
	BarcodePrefix string
	// DefaultCurrency подставляется, если во входных данных валюта не указана.
	DefaultCurrency string
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		CounterPrefix:   defaultCounterPrefix,
		BarcodePrefix:   defaultBarcodePrefix,
		DefaultCurrency: defaultCurrency,
	}
}

// Service - запись и чтение заказов поверх репозиториев и счётчика.
type Service struct {
	cfg     Config
	repos   *storage.Repositories
	outbox  *storage.OutboxStore
	metrics *metrics.OrderMetrics
	logger  *log.Entry
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics включает запись метрик.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени для журналов и событий.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService создаёт сервис заказов.
func NewService(repos *storage.Repositories, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.CounterPrefix == "" {
		cfg.CounterPrefix = def.CounterPrefix
	}
	if cfg.BarcodePrefix == "" {
		cfg.BarcodePrefix = def.BarcodePrefix
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = def.DefaultCurrency
	}

	s := &Service{
		cfg:    cfg,
		repos:  repos,
		outbox: storage.NewOutboxStore(repos.Outbox),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "order-service")
	}
	return s
}

// enqueue пишет событие заказа в outbox в рамках сессии.
func (s *Service) enqueue(ctx context.Context, sess *repository.Session, eventType string, event domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   event.OrderID,
		EventType:     eventType,
		Payload:       payload,
	}, sess); err != nil {
		return err
	}
	s.metrics.RecordOutboxEnqueued(eventType)
	return nil
}
