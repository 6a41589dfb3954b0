package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Platform — код платформы доставки.
type Platform string

const (
	PlatformDoorDash Platform = "doordash"
	PlatformUberEats Platform = "ubereats"
	PlatformGrubhub  Platform = "grubhub"
)

// IsValid проверяет, что платформа известна сервису.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformDoorDash, PlatformUberEats, PlatformGrubhub:
		return true
	default:
		return false
	}
}

func (p Platform) String() string {
	return string(p)
}

// AllPlatforms возвращает все поддерживаемые платформы в стабильном порядке.
func AllPlatforms() []Platform {
	return []Platform{PlatformDoorDash, PlatformUberEats, PlatformGrubhub}
}

// PairKey идентифицирует пару (ресторан, платформа) — единицу статуса и взаимного исключения.
type PairKey struct {
	RestaurantID string
	Platform     Platform
}

func (k PairKey) String() string {
	return k.RestaurantID + "/" + string(k.Platform)
}

// SyncState описывает состояние синхронизации пары.
type SyncState string

const (
	// SyncStatePending — пара сконфигурирована, но попыток ещё не было.
	SyncStatePending SyncState = "PENDING"
	// SyncStateSyncing — попытка в процессе.
	SyncStateSyncing SyncState = "SYNCING"
	// SyncStateSynced — последнее меню успешно опубликовано.
	SyncStateSynced SyncState = "SYNCED"
	// SyncStateFailed — последняя попытка завершилась ошибкой.
	SyncStateFailed SyncState = "FAILED"
)

var allowedTransitions = map[SyncState][]SyncState{
	SyncStatePending: {SyncStateSyncing},
	SyncStateSyncing: {SyncStateSynced, SyncStateFailed},
	SyncStateSynced:  {SyncStateSyncing},
	SyncStateFailed:  {SyncStateSyncing},
}

// CanTransition сообщает, допустим ли переход между состояниями.
func CanTransition(from, to SyncState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SyncStatus — текущий статус синхронизации пары.
type SyncStatus struct {
	RestaurantID   string     `json:"restaurant_id"`
	Platform       Platform   `json:"platform"`
	Status         SyncState  `json:"status"`
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
	ItemCount      int        `json:"item_count"`
	ExternalMenuID string     `json:"external_menu_id,omitempty"`
	RetryCount     int        `json:"retry_count"`
	LastError      string     `json:"last_error,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewPendingStatus создаёт статус для пары, по которой ещё не было попыток.
func NewPendingStatus(restaurantID string, platform Platform) SyncStatus {
	return SyncStatus{
		RestaurantID: restaurantID,
		Platform:     platform,
		Status:       SyncStatePending,
	}
}

// Key возвращает ключ пары.
func (s SyncStatus) Key() PairKey {
	return PairKey{RestaurantID: s.RestaurantID, Platform: s.Platform}
}

// TransitionTo переводит статус в новое состояние, проверяя порядок переходов.
func (s *SyncStatus) TransitionTo(next SyncState, at time.Time) error {
	if !CanTransition(s.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = at
	return nil
}

// MarkSynced фиксирует успешную синхронизацию. item_count меняется только здесь.
func (s *SyncStatus) MarkSynced(at time.Time, itemCount int, externalMenuID string, retries int) error {
	if err := s.TransitionTo(SyncStateSynced, at); err != nil {
		return err
	}
	synced := at
	s.LastSyncTime = &synced
	s.ItemCount = itemCount
	if externalMenuID != "" {
		s.ExternalMenuID = externalMenuID
	}
	s.RetryCount = retries
	s.LastError = ""
	return nil
}

// MarkFailed фиксирует неуспешную попытку.
func (s *SyncStatus) MarkFailed(at time.Time, retries int, message string) error {
	if err := s.TransitionTo(SyncStateFailed, at); err != nil {
		return err
	}
	s.RetryCount = retries
	s.LastError = message
	return nil
}

// FailureKind классифицирует причину неуспешной попытки.
type FailureKind string

const (
	FailureFetch   FailureKind = "FETCH"
	FailureFormat  FailureKind = "FORMAT"
	FailurePublish FailureKind = "PUBLISH"
)

// Retryable сообщает, имеет ли смысл автоматический повтор.
func (k FailureKind) Retryable() bool {
	return k == FailureFetch || k == FailurePublish
}

// ErrorDetails — описание ошибки для очереди ошибок.
type ErrorDetails struct {
	Kind       FailureKind `json:"kind"`
	Message    string      `json:"message"`
	StatusCode int         `json:"status_code,omitempty"`
}

// SyncError — запись очереди ошибок, ожидающая ручного разбора.
type SyncError struct {
	ErrorID      string          `json:"error_id"`
	RestaurantID string          `json:"restaurant_id"`
	Platform     Platform        `json:"platform"`
	CreatedAt    time.Time       `json:"created_at"`
	Details      ErrorDetails    `json:"error_details"`
	MenuSnapshot json.RawMessage `json:"menu_snapshot,omitempty"`
	RetryCount   int             `json:"retry_count"`
	Resolved     bool            `json:"resolved"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
}

// Key возвращает ключ пары, к которой относится ошибка.
func (e SyncError) Key() PairKey {
	return PairKey{RestaurantID: e.RestaurantID, Platform: e.Platform}
}

// Resolve помечает ошибку разобранной. Повторный вызов ничего не меняет.
func (e *SyncError) Resolve(at time.Time) {
	if e.Resolved {
		return
	}
	resolved := at
	e.Resolved = true
	e.ResolvedAt = &resolved
}

// ErrorFilter задаёт выборку из очереди ошибок. Пустые поля не фильтруют.
type ErrorFilter struct {
	RestaurantID string
	Platform     Platform
	Resolved     *bool
	Limit        int
}

// Matches проверяет, подходит ли запись под фильтр (без учёта Limit).
func (f ErrorFilter) Matches(e SyncError) bool {
	if f.RestaurantID != "" && e.RestaurantID != f.RestaurantID {
		return false
	}
	if f.Platform != "" && e.Platform != f.Platform {
		return false
	}
	if f.Resolved != nil && e.Resolved != *f.Resolved {
		return false
	}
	return true
}

// ErrorQueueStats описывает текущий backlog неразобранных ошибок.
type ErrorQueueStats struct {
	Unresolved         int
	OldestUnresolvedAt time.Time
}

// OperationState — состояние активной попытки.
type OperationState string

const (
	OperationRunning OperationState = "RUNNING"
	OperationDone    OperationState = "DONE"
)

// SyncOperation отслеживает попытку синхронизации, пока она выполняется.
type SyncOperation struct {
	OperationID    string         `json:"operation_id"`
	RestaurantID   string         `json:"restaurant_id"`
	Platform       Platform       `json:"platform"`
	Status         OperationState `json:"status"`
	ItemsProcessed int            `json:"items_processed"`
	TotalItems     int            `json:"total_items"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

// ProgressPercentage возвращает прогресс попытки в процентах.
func (o SyncOperation) ProgressPercentage() float64 {
	if o.TotalItems <= 0 {
		return 0
	}
	return float64(o.ItemsProcessed) / float64(o.TotalItems) * 100
}

// Finish помечает операцию завершённой.
func (o *SyncOperation) Finish(at time.Time) {
	finished := at
	o.Status = OperationDone
	o.FinishedAt = &finished
}

// FormattedMenu — payload в схеме конкретной платформы.
type FormattedMenu struct {
	Platform  Platform
	Payload   json.RawMessage
	ItemCount int
}

// PublishResult — результат публикации меню на платформе.
type PublishResult struct {
	Success        bool
	ExternalMenuID string
	StatusCode     int
	Message        string
}

// SyncOutcome — итог вызова Sync или ручного повтора.
type SyncOutcome struct {
	RestaurantID   string
	Platform       Platform
	OperationID    string
	Success        bool
	ItemCount      int
	ExternalMenuID string
	Attempts       int
	ErrorID        string
	Failure        *SyncFailure
	StoreFailures  int
}

// RetryOutcome — результат ручного повтора записи из очереди ошибок.
type RetryOutcome struct {
	Error           SyncError
	Outcome         SyncOutcome
	AlreadyResolved bool
}
