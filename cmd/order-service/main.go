package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/podoms/internal/app"
	"github.com/vladislavdragonenkov/podoms/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(parsed)
	return nil
}

// loadDotEnv подхватывает .env, если он есть. Уже заданные переменные не перезаписываются.
func loadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func main() {
	if err := loadDotEnv(".env"); err != nil {
		log.WithError(err).Warn("не удалось прочитать .env")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}
	if err := setupLogger(cfg.LogLevel); err != nil {
		log.WithError(err).Warn("используем уровень info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.String(),
		"grpc_addr":    cfg.GRPCAddr,
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"kafka":        cfg.KafkaEnabled(),
	}).Info("запускаем order service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("order service остановлен")
}
