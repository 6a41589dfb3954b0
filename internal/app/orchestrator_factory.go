package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/config"
	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/metrics"
	"github.com/vladislavdragonenkov/menusync/internal/platform"
	"github.com/vladislavdragonenkov/menusync/internal/service/syncer"
)

// buildAdapters создаёт адаптеры включённых платформ.
func buildAdapters(cfg config.PlatformsConfig, syncMetrics *metrics.SyncMetrics, logger *log.Entry) ([]domain.PlatformAdapter, error) {
	httpOptions := func(p domain.Platform) platform.HTTPOptions {
		return platform.HTTPOptions{
			Timeout:           cfg.RequestTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Metrics:           syncMetrics,
			Logger:            logger.WithField("platform", string(p)),
		}
	}

	var adapters []domain.PlatformAdapter
	if cfg.DoorDash.Enabled {
		adapter, err := platform.NewDoorDashAdapter(platform.DoorDashConfig{
			ClientID:     cfg.DoorDash.ClientID,
			ClientSecret: cfg.DoorDash.ClientSecret,
			Environment:  cfg.DoorDash.Environment,
			BaseURL:      cfg.DoorDash.BaseURL,
		}, httpOptions(domain.PlatformDoorDash))
		if err != nil {
			return nil, fmt.Errorf("configure doordash adapter: %w", err)
		}
		adapters = append(adapters, adapter)
	}
	if cfg.UberEats.Enabled {
		adapter, err := platform.NewUberEatsAdapter(platform.UberEatsConfig{
			ClientID:     cfg.UberEats.ClientID,
			ClientSecret: cfg.UberEats.ClientSecret,
			BaseURL:      cfg.UberEats.BaseURL,
			AuthURL:      cfg.UberEats.AuthURL,
			StoreIDs:     cfg.UberEats.StoreIDs,
		}, httpOptions(domain.PlatformUberEats))
		if err != nil {
			return nil, fmt.Errorf("configure ubereats adapter: %w", err)
		}
		adapters = append(adapters, adapter)
	}
	if cfg.Grubhub.Enabled {
		adapter, err := platform.NewGrubhubAdapter(platform.GrubhubConfig{
			APIKey:      cfg.Grubhub.APIKey,
			BaseURL:     cfg.Grubhub.BaseURL,
			MerchantIDs: cfg.Grubhub.MerchantIDs,
		}, httpOptions(domain.PlatformGrubhub))
		if err != nil {
			return nil, fmt.Errorf("configure grubhub adapter: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, domain.ErrPlatformNotConfigured
	}
	return adapters, nil
}

// buildResolver возвращает nil, если платформы ресторанов не настроены:
// тогда используются все включённые адаптеры.
func buildResolver(cfg config.SyncConfig, adapters []domain.PlatformAdapter) (domain.PlatformResolver, error) {
	if len(cfg.DefaultPlatforms) == 0 && len(cfg.RestaurantPlatforms) == 0 {
		return nil, nil
	}

	defaults, err := config.ParsePlatforms(cfg.DefaultPlatforms)
	if err != nil {
		return nil, err
	}
	if len(defaults) == 0 {
		for _, adapter := range adapters {
			defaults = append(defaults, adapter.Platform())
		}
	}

	overrides := make(map[string][]domain.Platform, len(cfg.RestaurantPlatforms))
	for restaurantID, names := range cfg.RestaurantPlatforms {
		platforms, err := config.ParsePlatforms(names)
		if err != nil {
			return nil, fmt.Errorf("restaurant %s: %w", restaurantID, err)
		}
		overrides[restaurantID] = platforms
	}

	return syncer.StaticPlatformResolver{Default: defaults, Overrides: overrides}, nil
}

// createOrchestrator создаёт оркестратор синхронизации.
// Без events уведомления о результатах не публикуются.
func createOrchestrator(
	cfg config.SyncConfig,
	source domain.MenuSource,
	adapters []domain.PlatformAdapter,
	stores *storageDeps,
	events domain.SyncEventPublisher,
	syncMetrics *metrics.SyncMetrics,
	logger *log.Entry,
) (*syncer.Orchestrator, error) {
	return syncer.NewOrchestrator(syncer.Dependencies{
		Source:     source,
		Adapters:   adapters,
		Statuses:   stores.statuses,
		Errors:     stores.errors,
		Operations: stores.operations,
		Events:     events,
	}, syncer.Config{
		RetryDelay:     cfg.RetryDelay,
		FetchTimeout:   cfg.FetchTimeout,
		PublishTimeout: cfg.PublishTimeout,
		StoreTimeout:   cfg.StoreTimeout,
	},
		syncer.WithLogger(logger.WithField("component", "sync-orchestrator")),
		syncer.WithMetrics(syncMetrics),
	)
}
