package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/podoms/internal/health"
	"github.com/vladislavdragonenkov/podoms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/podoms/internal/metrics"
	"github.com/vladislavdragonenkov/podoms/internal/service/orders"
	"github.com/vladislavdragonenkov/podoms/internal/service/outbox"
	"github.com/vladislavdragonenkov/podoms/internal/storage"
	"github.com/vladislavdragonenkov/podoms/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/podoms/internal/version"
)

// orderServiceName - имя сервиса в grpc.health.v1.
const orderServiceName = "pod.orders"

func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	backend, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage(backend, logger)

	repos := storage.NewRepositories(backend.db)
	orderSvc := orders.NewService(repos, orders.Config{
		CounterPrefix:   cfg.CounterPrefix,
		BarcodePrefix:   cfg.BarcodePrefix,
		DefaultCurrency: cfg.DefaultCurrency,
	},
		orders.WithMetrics(metrics.NewOrderMetrics()),
		orders.WithLogger(logger.WithField("layer", "orders")),
	)

	// Kafka опциональна: без неё события остаются pending в outbox.
	kafkaProducer, _ := initKafkaProducer(cfg, logger)
	defer closeKafka(kafkaProducer, logger)

	outboxMetrics := metrics.NewOutboxMetrics()
	workerCtx, stopWorker := context.WithCancel(ctx)
	var workerWG sync.WaitGroup

	cleanup := newOutboxCleanup(cfg, repos, outboxMetrics, logger)
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		cleanup.Run(workerCtx)
	}()

	if kafkaProducer != nil {
		worker := newOutboxWorker(cfg, repos, kafkaProducer, outboxMetrics, logger)
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			worker.Run(workerCtx)
		}()
	}
	defer func() {
		stopWorker()
		workerWG.Wait()
	}()

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", health.NewPingChecker("storage", backend.pinger))

	metricsSrv := startHTTPServer(ctx, "metrics", cfg.MetricsAddr, newMetricsMux(healthHandler), logger)
	apiSrv := startHTTPServer(ctx, "api", cfg.HTTPAddr,
		httpapi.NewRouter(httpapi.NewHandler(orderSvc, logger.WithField("layer", "http"))), logger)

	grpcMetrics := registerGRPCMetrics(logger)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(orderServiceName, healthpb.HealthCheckResponse_SERVING)
	grpcMetrics.InitializeMetrics(grpcServer)

	// reflection нужен grpcurl и нагрузочным инструментам.
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.Shutdown()
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(cfg.ShutdownTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newOutboxWorker собирает воркер, публикующий outbox в основной топик и DLQ.
func newOutboxWorker(cfg Config, repos *storage.Repositories, producer *kafka.Producer, m *metrics.OutboxMetrics, logger *log.Entry) *outbox.Worker {
	return outbox.NewWorker(
		storage.NewOutboxStore(repos.Outbox),
		kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)),
		outbox.WithMetrics(m),
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryBaseDelay),
	)
}

// newOutboxCleanup архивирует отправленные события независимо от наличия Kafka.
func newOutboxCleanup(cfg Config, repos *storage.Repositories, m *metrics.OutboxMetrics, logger *log.Entry) *outbox.CleanupWorker {
	return outbox.NewCleanupWorker(
		storage.NewOutboxStore(repos.Outbox),
		outbox.WithCleanupMetrics(m),
		outbox.WithCleanupLogger(logger.WithField("layer", "outbox-cleanup")),
		outbox.WithCleanupInterval(cfg.OutboxCleanupInterval),
		outbox.WithRetention(cfg.OutboxRetention),
	)
}

// registerGRPCMetrics регистрирует метрики gRPC; при повторном запуске
// в том же процессе переиспользует уже зарегистрированные.
func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// newMetricsMux отдаёт /metrics для Prometheus и health-эндпоинты.
func newMetricsMux(healthHandler *health.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	return mux
}

// startHTTPServer запускает HTTP-сервер в фоне и останавливает его по ctx.
func startHTTPServer(ctx context.Context, name, addr string, handler http.Handler, logger *log.Entry) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	serverLogger := logger.WithField("server", name)
	go func() {
		serverLogger.Infof("HTTP сервер слушает %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.WithError(err).Warn("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, DefaultConfig().ShutdownTimeout, serverLogger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
