package outbox

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultRetention        = 7 * 24 * time.Hour
)

// CleanupOptions задаёт параметры retention-воркера outbox.
type CleanupOptions struct {
	Logger    *log.Entry
	Metrics   *metrics.OutboxMetrics
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

func WithCleanupLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

func WithCleanupMetrics(m *metrics.OutboxMetrics) CleanupOption {
	return func(opts *CleanupOptions) { opts.Metrics = m }
}

// WithCleanupInterval задаёт интервал между прогонами.
func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

// WithCleanupBatchSize задаёт размер одной порции архивации.
func WithCleanupBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// WithRetention задаёт, сколько хранить отправленные сообщения.
func WithRetention(retention time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Retention = retention }
}

// CleanupWorker периодически архивирует отправленные сообщения старше retention.
// Pending и failed сообщения не трогаются.
type CleanupWorker struct {
	repo      domain.OutboxArchiver
	metrics   *metrics.OutboxMetrics
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// NewCleanupWorker создаёт retention-воркер.
func NewCleanupWorker(repo domain.OutboxArchiver, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
		Retention: defaultRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-cleanup-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}

	return &CleanupWorker{
		repo:      repo,
		metrics:   opts.Metrics,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
		now:       time.Now,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("outbox cleanup worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) {
	archived, err := w.ArchiveExpired(ctx, w.now().UTC().Add(-w.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordCleanup("error", archived)
		w.logger.WithError(err).Warn("outbox cleanup run failed")
		return
	}

	w.metrics.RecordCleanup("ok", archived)
	if archived > 0 {
		w.logger.WithField("archived", archived).Info("outbox cleanup completed")
	}
}

// ArchiveExpired архивирует все sent-сообщения старше before порциями batchSize.
func (w *CleanupWorker) ArchiveExpired(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		archived, err := w.repo.ArchiveSent(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += archived

		if archived < w.batchSize {
			return total, nil
		}
	}
}
