// Package admin — тонкий фасад административных операций над синхронизацией меню.
// Бизнес-логики здесь нет: вызовы передаются оркестратору, диспетчеру и хранилищам.
package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

const defaultErrorListLimit = 50

// Orchestrator — операции оркестратора, доступные администратору.
type Orchestrator interface {
	Sync(ctx context.Context, restaurantID string, platform domain.Platform) (domain.SyncOutcome, error)
	RetryError(ctx context.Context, errorID string) (domain.RetryOutcome, error)
	ResolveError(ctx context.Context, errorID string) (domain.SyncError, error)
	Platforms() []domain.Platform
	Supports(platform domain.Platform) bool
}

// Dispatcher ставит асинхронные синхронизации в очередь.
type Dispatcher interface {
	HandleTrigger(ctx context.Context, restaurantID string, changedItemIDs []string, platforms []domain.Platform) ([]domain.Platform, error)
}

// Dependencies — зависимости фасада. Operations и Resolver необязательны.
type Dependencies struct {
	Orchestrator Orchestrator
	Dispatcher   Dispatcher
	Statuses     domain.StatusStore
	Errors       domain.ErrorStore
	Operations   domain.OperationStore
	Resolver     domain.PlatformResolver
}

// RefreshResult — ответ на запрос полного обновления меню.
type RefreshResult struct {
	RestaurantID string
	Accepted     bool
	Forced       bool
	Platforms    []domain.Platform
	// Outcomes заполняется только для принудительного синхронного обновления.
	Outcomes map[domain.Platform]domain.SyncOutcome
}

// Succeeded сообщает, успешны ли все синхронные прогоны.
func (r RefreshResult) Succeeded() bool {
	for _, outcome := range r.Outcomes {
		if !outcome.Success {
			return false
		}
	}
	return true
}

// Service реализует административные операции.
type Service struct {
	orchestrator Orchestrator
	dispatcher   Dispatcher
	statuses     domain.StatusStore
	errors       domain.ErrorStore
	operations   domain.OperationStore
	resolver     domain.PlatformResolver
	logger       *log.Entry
}

// NewService проверяет зависимости и создаёт фасад.
func NewService(deps Dependencies, logger *log.Entry) (*Service, error) {
	switch {
	case deps.Orchestrator == nil:
		return nil, fmt.Errorf("admin service: orchestrator is required")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("admin service: dispatcher is required")
	case deps.Statuses == nil:
		return nil, fmt.Errorf("admin service: status store is required")
	case deps.Errors == nil:
		return nil, fmt.Errorf("admin service: error store is required")
	}
	if logger == nil {
		logger = log.WithField("component", "admin-service")
	}

	return &Service{
		orchestrator: deps.Orchestrator,
		dispatcher:   deps.Dispatcher,
		statuses:     deps.Statuses,
		errors:       deps.Errors,
		operations:   deps.Operations,
		resolver:     deps.Resolver,
		logger:       logger,
	}, nil
}

// GetStatus возвращает статус каждой сконфигурированной платформы ресторана.
// Пары без попыток отдаются как PENDING; идущая попытка видна как SYNCING.
func (s *Service) GetStatus(ctx context.Context, restaurantID string) (map[domain.Platform]domain.SyncStatus, error) {
	if strings.TrimSpace(restaurantID) == "" {
		return nil, domain.ErrRestaurantRequired
	}

	stored, err := s.statuses.ListByRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list sync statuses: %w", err)
	}

	result := make(map[domain.Platform]domain.SyncStatus, len(stored))
	for _, status := range stored {
		result[status.Platform] = status
	}
	for _, platform := range s.configuredPlatforms(restaurantID) {
		if _, ok := result[platform]; !ok {
			result[platform] = domain.NewPendingStatus(restaurantID, platform)
		}
	}
	return result, nil
}

// RunningOperations возвращает активные попытки ресторана с прогрессом.
func (s *Service) RunningOperations(ctx context.Context, restaurantID string) ([]domain.SyncOperation, error) {
	if s.operations == nil {
		return []domain.SyncOperation{}, nil
	}
	ops, err := s.operations.ListRunning(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list running operations: %w", err)
	}
	return ops, nil
}

// TriggerFullRefresh запускает синхронизацию ресторана.
// force=false ставит прогоны в диспетчер и сразу возвращается; force=true выполняет
// Sync по всем платформам параллельно и возвращает итог каждой.
func (s *Service) TriggerFullRefresh(ctx context.Context, restaurantID string, platforms []domain.Platform, force bool) (RefreshResult, error) {
	if strings.TrimSpace(restaurantID) == "" {
		return RefreshResult{}, domain.ErrRestaurantRequired
	}
	for _, platform := range platforms {
		if !platform.IsValid() {
			return RefreshResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, platform)
		}
	}

	logger := s.logger.WithFields(log.Fields{
		"restaurant_id": restaurantID,
		"force":         force,
	})

	if !force {
		scheduled, err := s.dispatcher.HandleTrigger(ctx, restaurantID, nil, platforms)
		if err != nil {
			return RefreshResult{}, err
		}
		logger.WithField("platforms", scheduled).Info("full refresh scheduled")
		return RefreshResult{
			RestaurantID: restaurantID,
			Accepted:     len(scheduled) > 0,
			Platforms:    scheduled,
		}, nil
	}

	targets := platforms
	if len(targets) == 0 {
		targets = s.configuredPlatforms(restaurantID)
	}
	targets = s.supported(targets)
	if len(targets) == 0 {
		return RefreshResult{}, fmt.Errorf("%w for restaurant %s", domain.ErrPlatformNotConfigured, restaurantID)
	}

	var (
		mu       sync.Mutex
		outcomes = make(map[domain.Platform]domain.SyncOutcome, len(targets))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, platform := range targets {
		platform := platform
		g.Go(func() error {
			outcome, err := s.orchestrator.Sync(gctx, restaurantID, platform)
			if err != nil {
				return fmt.Errorf("sync %s: %w", platform, err)
			}
			mu.Lock()
			outcomes[platform] = outcome
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RefreshResult{}, err
	}

	result := RefreshResult{
		RestaurantID: restaurantID,
		Accepted:     true,
		Forced:       true,
		Platforms:    targets,
		Outcomes:     outcomes,
	}
	logger.WithFields(log.Fields{
		"platforms": targets,
		"succeeded": result.Succeeded(),
	}).Info("forced full refresh finished")
	return result, nil
}

// SyncPlatform синхронно выполняет Sync для одной платформы.
func (s *Service) SyncPlatform(ctx context.Context, restaurantID string, platform domain.Platform) (domain.SyncOutcome, error) {
	return s.orchestrator.Sync(ctx, restaurantID, platform)
}

// ListErrors возвращает записи очереди ошибок от новых к старым.
func (s *Service) ListErrors(ctx context.Context, filter domain.ErrorFilter) ([]domain.SyncError, error) {
	if filter.Platform != "" && !filter.Platform.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, filter.Platform)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultErrorListLimit
	}
	errs, err := s.errors.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sync errors: %w", err)
	}
	return errs, nil
}

// GetError возвращает запись очереди ошибок.
func (s *Service) GetError(ctx context.Context, errorID string) (domain.SyncError, error) {
	return s.errors.Get(ctx, errorID)
}

// RetryError вручную повторяет синхронизацию по записи очереди ошибок.
func (s *Service) RetryError(ctx context.Context, errorID string) (domain.RetryOutcome, error) {
	return s.orchestrator.RetryError(ctx, errorID)
}

// ResolveError помечает запись разобранной.
func (s *Service) ResolveError(ctx context.Context, errorID string) (domain.SyncError, error) {
	return s.orchestrator.ResolveError(ctx, errorID)
}

// ErrorQueueStats возвращает размер backlog очереди ошибок.
func (s *Service) ErrorQueueStats(ctx context.Context) (domain.ErrorQueueStats, error) {
	return s.errors.Stats(ctx)
}

func (s *Service) configuredPlatforms(restaurantID string) []domain.Platform {
	var candidates []domain.Platform
	if s.resolver != nil {
		candidates = s.resolver.PlatformsFor(restaurantID)
	} else {
		candidates = s.orchestrator.Platforms()
	}
	return s.supported(candidates)
}

func (s *Service) supported(platforms []domain.Platform) []domain.Platform {
	seen := make(map[domain.Platform]struct{}, len(platforms))
	result := make([]domain.Platform, 0, len(platforms))
	for _, platform := range platforms {
		if _, dup := seen[platform]; dup {
			continue
		}
		seen[platform] = struct{}{}
		if platform.IsValid() && s.orchestrator.Supports(platform) {
			result = append(result, platform)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
