package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/config"
	"github.com/vladislavdragonenkov/menusync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/menusync/internal/health"
	"github.com/vladislavdragonenkov/menusync/internal/storage/memory"
	"github.com/vladislavdragonenkov/menusync/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/menusync/internal/storage/redis"
)

// storageDeps — хранилища статусов, ошибок и операций вместе с их проверками.
type storageDeps struct {
	statuses   domain.StatusStore
	errors     domain.ErrorStore
	operations domain.OperationStore
	checkers   map[string]healthcheck.Checker
	closers    []func() error
}

func (s *storageDeps) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// initStorage выбирает реализацию хранилищ по конфигурации.
func initStorage(ctx context.Context, cfg config.Config, logger *log.Entry) (*storageDeps, error) {
	deps := &storageDeps{checkers: make(map[string]healthcheck.Checker)}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case config.StorageDriverMemory, "":
		deps.statuses = memory.NewStatusRepository()
		deps.errors = memory.NewErrorRepository()
		logger.Info("using in-memory status and error stores")
	case config.StorageDriverPostgres:
		if strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.Storage.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = deps.close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		deps.statuses = postgres.NewStatusRepository(store)
		deps.errors = postgres.NewErrorRepository(store)
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
		logger.Info("using postgres status and error stores")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		deps.operations = memory.NewOperationRepository()
		return deps, nil
	}

	client, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		_ = deps.close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	deps.closers = append(deps.closers, client.Close)

	operations := redisstore.NewOperationRepository(client, redisstore.Options{
		RunningTTL: cfg.Redis.RunningTTL,
		DoneTTL:    cfg.Workers.OperationRetention,
	})
	deps.operations = operations
	deps.checkers["redis"] = healthcheck.NewPingChecker("redis", operations.Ping)
	logger.WithField("addr", cfg.Redis.Addr).Info("using redis operation store")
	return deps, nil
}
