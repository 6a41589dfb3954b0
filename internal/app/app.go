// Package app собирает и запускает сервис синхронизации меню.
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
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/menusync/internal/config"
	healthcheck "github.com/vladislavdragonenkov/menusync/internal/health"
	"github.com/vladislavdragonenkov/menusync/internal/service/cleanup"
	"github.com/vladislavdragonenkov/menusync/internal/service/errorqueue"
	grpcsvc "github.com/vladislavdragonenkov/menusync/internal/service/grpc"
)

const httpShutdownTimeout = 5 * time.Second

// Run запускает сервис и блокируется до отмены ctx или ошибки gRPC-сервера.
func Run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close dependencies")
		}
	}()

	lis, err := net.Listen("tcp", cfg.Service.GRPCAddr)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	consumer := startTriggerConsumer(runCtx, cfg.Kafka, deps.Dispatcher, deps.Producer, deps.Metrics, logger)
	stopWorkers := startWorkers(cfg.Workers, deps, logger)

	grpcServer, healthServer := newGRPCServer(deps, cfg.Service.APIKeys, logger)
	metricsSrv := startMetricsServer(runCtx, cfg.Service.MetricsAddr, logger, deps.Health)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	cancelRun()
	stopConsumer(consumer, logger)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stopGRPC(grpcServer, cfg.Service.ShutdownTimeout, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := deps.Dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("dispatcher shutdown interrupted, pending syncs dropped")
	}

	stopWorkers()
	shutdownHTTP(metricsSrv, logger)
	return runErr
}

// newGRPCServer регистрирует AdminService, health и reflection.
func newGRPCServer(deps *Dependencies, apiKeys []string, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		grpcsvc.APIKeyInterceptor(apiKeys),
	))

	adminService := grpcsvc.NewAdminService(deps.Admin, logger.WithField("layer", "grpc"))
	grpcsvc.RegisterAdminServer(grpcServer, adminService)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.AdminServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	return grpcServer, healthServer
}

// stopGRPC ждёт завершения активных вызовов не дольше timeout.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startWorkers запускает монитор очереди ошибок и очистку операций.
// Возвращённая функция останавливает воркеры и ждёт их завершения.
func startWorkers(cfg config.WorkersConfig, deps *Dependencies, logger *log.Entry) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	monitor := errorqueue.NewMonitor(deps.Errors,
		errorqueue.WithLogger(logger.WithField("component", "error-queue-monitor")),
		errorqueue.WithMetrics(deps.Metrics),
		errorqueue.WithPollInterval(cfg.ErrorQueuePollInterval),
		errorqueue.WithAlertThreshold(cfg.ErrorQueueAlertThreshold),
	)
	cleaner := cleanup.NewWorker(deps.Operations,
		cleanup.WithLogger(logger.WithField("component", "operation-cleanup-worker")),
		cleanup.WithInterval(cfg.OperationCleanupInterval),
		cleanup.WithBatchSize(cfg.OperationCleanupBatchSize),
		cleanup.WithRetention(cfg.OperationRetention),
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleaner.Run(ctx)
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

// startMetricsServer запускает HTTP-сервер с /metrics и health probes.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
