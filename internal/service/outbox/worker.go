package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.OutboxMetrics
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

// WithMetrics включает метрики публикации и backlog.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(opts *WorkerOptions) { opts.Metrics = m }
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) { opts.DLQPublisher = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) { opts.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) { opts.RetryBaseDelay = delay }
}

// Worker публикует события заказов, записанные в outbox в одной сессии с
// агрегатом. Доставка at-least-once: сообщение помечается sent только после
// успешной публикации. Внутри батча события одного заказа уходят по порядку:
// после отказа более поздние события этого заказа ждут следующего цикла.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	metrics      *metrics.OutboxMetrics
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	backoff      backoff
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Worker{
		repo:         repo,
		publisher:    publisher,
		dlqPublisher: opts.DLQPublisher,
		metrics:      opts.Metrics,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		backoff:      newBackoff(opts.MaxAttempts, opts.RetryBaseDelay),
	}
}

// Run опрашивает outbox каждые pollInterval, пока не отменён ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует один батч и возвращает число отправленных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.refreshBacklogMetrics(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	blocked := make(map[string]struct{})
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if _, ok := blocked[msg.AggregateID]; ok {
			w.metrics.RecordPublish("held")
			continue
		}
		if w.deliver(ctx, msg) {
			sent++
			continue
		}
		blocked[msg.AggregateID] = struct{}{}
	}
	return sent
}

// deliver публикует сообщение и фиксирует результат в outbox.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	publishErr := w.publish(ctx, msg)
	if publishErr == nil {
		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox message as sent")
			return false
		}
		return true
	}
	if ctx.Err() != nil {
		// Остановка: сообщение остаётся pending и уйдёт после рестарта.
		return false
	}

	entry.WithError(publishErr).Error("outbox publish failed after retries")
	w.metrics.RecordPublish("failed")

	if err := w.deadLetter(ctx, msg, publishErr); err != nil {
		entry.WithError(err).Warn("failed to publish to DLQ")
		w.metrics.RecordPublish("dlq_failed")
	}
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox message as failed")
	}
	return false
}

func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = w.publisher.Publish(ctx, msg)
		if lastErr == nil {
			w.metrics.RecordPublish("sent")
			return nil
		}
		w.metrics.RecordPublish("retry_error")

		if attempt >= w.backoff.attempts {
			return fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, attempt, lastErr)
		}
		if err := w.backoff.wait(ctx, attempt); err != nil {
			return err
		}
	}
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, time.Now())
}

// backoff - экспоненциальная задержка между попытками публикации.
type backoff struct {
	attempts int
	base     time.Duration
}

func newBackoff(attempts int, base time.Duration) backoff {
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	if base < 0 {
		base = 0
	}
	return backoff{attempts: attempts, base: base}
}

// delay удваивает base на каждую следующую попытку и насыщается на MaxInt64.
func (b backoff) delay(attempt int) time.Duration {
	if b.base <= 0 {
		return 0
	}
	const ceiling = time.Duration(1<<63 - 1)
	d := b.base
	for i := 1; i < attempt; i++ {
		if d > ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return d
}

func (b backoff) wait(ctx context.Context, attempt int) error {
	d := b.delay(attempt)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// dlqEnvelope - сообщение DLQ: исходное событие и причина отказа.
type dlqEnvelope struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Attempts       int             `json:"attempts"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(dlqEnvelope{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Attempts:       msg.Attempts + 1,
		Payload:        json.RawMessage(msg.Payload),
		PublishError:   cause.Error(),
		DLQPublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	letter := msg
	letter.Payload = payload
	if err := w.dlqPublisher.Publish(ctx, letter); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
