package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStatusNotFound возвращается, если для пары ещё нет статуса.
	ErrStatusNotFound = errors.New("sync status not found")
	// ErrSyncErrorNotFound возвращается, если запись очереди ошибок не найдена.
	ErrSyncErrorNotFound = errors.New("sync error not found")
	// ErrOperationNotFound возвращается, если операция не найдена.
	ErrOperationNotFound = errors.New("sync operation not found")
	// ErrInvalidTransition сигнализирует о нарушении порядка состояний статуса.
	ErrInvalidTransition = errors.New("invalid sync status transition")
	// ErrPlatformNotConfigured — для платформы нет включённого адаптера.
	ErrPlatformNotConfigured = errors.New("platform is not configured")
	// ErrUnknownPlatform — код платформы не поддерживается.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrRestaurantRequired — не указан идентификатор ресторана.
	ErrRestaurantRequired = errors.New("restaurant_id is required")
	// ErrInvalidTrigger — событие изменения меню не проходит валидацию.
	ErrInvalidTrigger = errors.New("invalid trigger event")
	// ErrDispatcherClosed — диспетчер остановлен и не принимает триггеры.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	// ErrFetch — сервис меню недоступен или вернул некорректные данные.
	ErrFetch = errors.New("menu fetch failed")
	// ErrFormat — адаптер не может представить меню в схеме платформы.
	ErrFormat = errors.New("menu format failed")
	// ErrPublish — платформа отклонила меню или недоступна.
	ErrPublish = errors.New("menu publish failed")
)

// SyncFailure описывает причину неуспешной попытки синхронизации.
type SyncFailure struct {
	Kind       FailureKind
	Message    string
	StatusCode int
	Err        error
}

// NewFetchError оборачивает ошибку сервиса меню.
func NewFetchError(statusCode int, err error) *SyncFailure {
	return &SyncFailure{Kind: FailureFetch, Message: errMessage(err), StatusCode: statusCode, Err: err}
}

// NewFormatError оборачивает ошибку форматирования.
func NewFormatError(err error) *SyncFailure {
	return &SyncFailure{Kind: FailureFormat, Message: errMessage(err), Err: err}
}

// NewPublishError строит ошибку публикации из результата адаптера.
func NewPublishError(result PublishResult) *SyncFailure {
	msg := result.Message
	if msg == "" {
		msg = "platform rejected menu"
	}
	return &SyncFailure{Kind: FailurePublish, Message: msg, StatusCode: result.StatusCode}
}

func (f *SyncFailure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", f.Kind, f.Message, f.StatusCode)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *SyncFailure) Unwrap() []error {
	var kindErr error
	switch f.Kind {
	case FailureFetch:
		kindErr = ErrFetch
	case FailureFormat:
		kindErr = ErrFormat
	default:
		kindErr = ErrPublish
	}
	if f.Err == nil {
		return []error{kindErr}
	}
	return []error{kindErr, f.Err}
}

// Details переводит ошибку в формат записи очереди ошибок.
func (f *SyncFailure) Details() ErrorDetails {
	return ErrorDetails{Kind: f.Kind, Message: f.Message, StatusCode: f.StatusCode}
}

// Retryable сообщает, допускает ли ошибка автоматический повтор.
func (f *SyncFailure) Retryable() bool {
	return f != nil && f.Kind.Retryable()
}

// IsNotFound проверяет, является ли ошибка отсутствием записи.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStatusNotFound) ||
		errors.Is(err, ErrSyncErrorNotFound) ||
		errors.Is(err, ErrOperationNotFound)
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
