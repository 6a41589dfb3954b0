package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/config"
	"github.com/vladislavdragonenkov/menusync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/menusync/internal/health"
	"github.com/vladislavdragonenkov/menusync/internal/menusource"
	"github.com/vladislavdragonenkov/menusync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/menusync/internal/metrics"
	"github.com/vladislavdragonenkov/menusync/internal/service/admin"
	"github.com/vladislavdragonenkov/menusync/internal/service/syncer"
	"github.com/vladislavdragonenkov/menusync/internal/version"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Statuses     domain.StatusStore
	Errors       domain.ErrorStore
	Operations   domain.OperationStore
	Source       domain.MenuSource
	Adapters     []domain.PlatformAdapter
	Resolver     domain.PlatformResolver
	Metrics      *metrics.SyncMetrics
	Producer     *kafka.Producer
	Orchestrator *syncer.Orchestrator
	Dispatcher   *syncer.Dispatcher
	Admin        *admin.Service
	Health       *healthcheck.Handler
	Logger       *log.Entry

	storage *storageDeps
}

// NewDependencies создаёт хранилища, клиентов и сервисы по конфигурации.
func NewDependencies(ctx context.Context, cfg config.Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	stores, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Statuses:   stores.statuses,
		Errors:     stores.errors,
		Operations: stores.operations,
		Metrics:    metrics.NewSyncMetrics(),
		Health:     healthcheck.NewHandler(version.GetVersion()),
		Logger:     logger,
		storage:    stores,
	}
	for name, checker := range stores.checkers {
		deps.Health.RegisterChecker(name, checker)
	}

	if err := deps.build(cfg); err != nil {
		_ = deps.Close()
		return nil, err
	}
	return deps, nil
}

func (d *Dependencies) build(cfg config.Config) error {
	source, err := menusource.NewClient(menusource.Config{
		BaseURL: cfg.MenuSource.BaseURL,
		APIKey:  cfg.MenuSource.APIKey,
		Timeout: cfg.MenuSource.Timeout,
	}, d.Logger.WithField("component", "menu-source"))
	if err != nil {
		return fmt.Errorf("configure menu source: %w", err)
	}
	d.Source = source

	if d.Adapters, err = buildAdapters(cfg.Platforms, d.Metrics, d.Logger); err != nil {
		return err
	}
	if d.Resolver, err = buildResolver(cfg.Sync, d.Adapters); err != nil {
		return err
	}

	var events domain.SyncEventPublisher
	if cfg.Kafka.Enabled() {
		// Ошибка уже залогирована: сервис работает без Kafka.
		if producer, err := initKafkaProducer(cfg.Kafka.Brokers, d.Logger); err == nil {
			d.Producer = producer
			events = kafka.NewSyncEventPublisher(producer, cfg.Kafka.EventsTopic)
		}
		d.Health.RegisterChecker("kafka", kafkaChecker(d.Producer))
	}

	d.Orchestrator, err = createOrchestrator(cfg.Sync, d.Source, d.Adapters, d.storage, events, d.Metrics, d.Logger)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	d.Dispatcher = syncer.NewDispatcher(d.Orchestrator, syncer.DispatcherOptions{
		MaxConcurrentSyncs: cfg.Sync.MaxConcurrentSyncs,
		Resolver:           d.Resolver,
		Metrics:            d.Metrics,
		Logger:             d.Logger.WithField("component", "sync-dispatcher"),
	})

	d.Admin, err = admin.NewService(admin.Dependencies{
		Orchestrator: d.Orchestrator,
		Dispatcher:   d.Dispatcher,
		Statuses:     d.Statuses,
		Errors:       d.Errors,
		Operations:   d.Operations,
		Resolver:     d.Resolver,
	}, d.Logger.WithField("component", "admin"))
	if err != nil {
		return fmt.Errorf("create admin service: %w", err)
	}
	return nil
}

// Close закрывает Kafka producer и соединения хранилищ.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	closeKafka(d.Producer, d.Logger)
	d.Producer = nil

	var errs []error
	if d.storage != nil {
		if err := d.storage.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
