package app

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix - префикс переменных окружения конфигурации (POD_HTTP_ADDR и т.д.).
const EnvPrefix = "POD"

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string `envconfig:"GRPC_ADDR"`
	HTTPAddr    string `envconfig:"HTTP_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER"`
	SQLiteDSN           string `envconfig:"SQLITE_DSN"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE"`

	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	KafkaClientID string   `envconfig:"KAFKA_CLIENT_ID"`
	KafkaTopic    string   `envconfig:"KAFKA_TOPIC"`
	KafkaDLQTopic string   `envconfig:"KAFKA_DLQ_TOPIC"`

	OutboxPollInterval   time.Duration `envconfig:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize      int           `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts    int           `envconfig:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryBaseDelay time.Duration `envconfig:"OUTBOX_RETRY_BASE_DELAY"`

	OutboxRetention       time.Duration `envconfig:"OUTBOX_RETENTION"`
	OutboxCleanupInterval time.Duration `envconfig:"OUTBOX_CLEANUP_INTERVAL"`

	CounterPrefix   string `envconfig:"COUNTER_PREFIX"`
	BarcodePrefix   string `envconfig:"BARCODE_PREFIX"`
	DefaultCurrency string `envconfig:"DEFAULT_CURRENCY"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `envconfig:"LOG_LEVEL"`
}

// DefaultConfig возвращает конфигурацию для локального запуска на SQLite без Kafka.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:              ":50051",
		HTTPAddr:              ":8080",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageSQLite,
		SQLiteDSN:             "file:podoms.db?cache=shared",
		PostgresAutoMigrate:   true,
		KafkaClientID:         "pod-order-service",
		KafkaTopic:            "pod.order.events",
		KafkaDLQTopic:         "pod.order.dlq",
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     3,
		OutboxRetryBaseDelay:  50 * time.Millisecond,
		OutboxRetention:       7 * 24 * time.Hour,
		OutboxCleanupInterval: 10 * time.Minute,
		CounterPrefix:         "BO",
		BarcodePrefix:         "BO",
		DefaultCurrency:       "USD",
		ShutdownTimeout:       5 * time.Second,
		LogLevel:              "info",
	}
}

// LoadConfig читает переменные окружения с префиксом POD поверх DefaultConfig.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек хранилища.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageSQLite:
		if c.SQLiteDSN == "" {
			return fmt.Errorf("config: POD_SQLITE_DSN is required for sqlite storage")
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: POD_POSTGRES_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.StorageDriver)
	}
	return nil
}

// KafkaEnabled сообщает, настроена ли публикация outbox в Kafka.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
