package domain

import (
	"context"
	"time"
)

// MenuSource выдаёт актуальное меню ресторана.
type MenuSource interface {
	// Fetch возвращает позиции и категории. Ошибка — всегда *SyncFailure вида FETCH.
	Fetch(ctx context.Context, restaurantID string) (Menu, error)
}

// PlatformAdapter переводит меню в схему платформы и публикует его.
type PlatformAdapter interface {
	Platform() Platform
	// Format чистая функция без I/O: одинаковый вход даёт одинаковый payload.
	// Ненулевая ошибка означает, что меню нельзя представить на платформе.
	Format(items []MenuItem, categories []Category) (FormattedMenu, error)
	// Publish никогда не паникует: все сбои сети и платформы приходят как Success=false.
	Publish(ctx context.Context, restaurantID string, menu FormattedMenu) PublishResult
}

// StatusStore хранит статусы синхронизации по парам.
type StatusStore interface {
	Get(ctx context.Context, restaurantID string, platform Platform) (SyncStatus, error)
	Put(ctx context.Context, status SyncStatus) error
	ListByRestaurant(ctx context.Context, restaurantID string) ([]SyncStatus, error)
}

// ErrorStore хранит очередь ошибок синхронизации.
type ErrorStore interface {
	Get(ctx context.Context, errorID string) (SyncError, error)
	Put(ctx context.Context, syncErr SyncError) error
	// List возвращает записи от новых к старым.
	List(ctx context.Context, filter ErrorFilter) ([]SyncError, error)
	Stats(ctx context.Context) (ErrorQueueStats, error)
}

// OperationStore хранит эфемерные записи об активных попытках.
type OperationStore interface {
	Save(ctx context.Context, op SyncOperation) error
	Get(ctx context.Context, operationID string) (SyncOperation, error)
	// ListRunning возвращает операции в состоянии RUNNING; пустой restaurantID — все.
	ListRunning(ctx context.Context, restaurantID string) ([]SyncOperation, error)
	DeleteFinishedBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// SyncEventPublisher отправляет уведомления об итогах синхронизации.
type SyncEventPublisher interface {
	PublishSyncEvent(ctx context.Context, event SyncEvent) error
}

// PlatformResolver определяет платформы, сконфигурированные для ресторана.
type PlatformResolver interface {
	PlatformsFor(restaurantID string) []Platform
}
