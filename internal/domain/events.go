package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TriggerType — тип изменения меню.
type TriggerType string

const (
	TriggerCreated TriggerType = "CREATED"
	TriggerUpdated TriggerType = "UPDATED"
	TriggerDeleted TriggerType = "DELETED"
)

// ParseTriggerType принимает как "UPDATED", так и "menu.updated".
func ParseTriggerType(raw string) (TriggerType, bool) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "MENU.")
	switch TriggerType(value) {
	case TriggerCreated, TriggerUpdated, TriggerDeleted:
		return TriggerType(value), true
	default:
		return "", false
	}
}

// TriggerEvent — событие изменения меню, доставляемое как минимум один раз.
type TriggerEvent struct {
	Source       string          `json:"source"`
	EventType    string          `json:"event_type"`
	RestaurantID string          `json:"restaurant_id"`
	ItemID       string          `json:"item_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Item         json.RawMessage `json:"item,omitempty"`
	Platforms    []Platform      `json:"platforms,omitempty"`
}

// Validate проверяет обязательные поля события.
func (e TriggerEvent) Validate() error {
	if strings.TrimSpace(e.RestaurantID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidTrigger, ErrRestaurantRequired)
	}
	if _, ok := ParseTriggerType(e.EventType); !ok {
		return fmt.Errorf("%w: unsupported event_type %q", ErrInvalidTrigger, e.EventType)
	}
	for _, p := range e.Platforms {
		if !p.IsValid() {
			return fmt.Errorf("%w: %w %q", ErrInvalidTrigger, ErrUnknownPlatform, p)
		}
	}
	return nil
}

// ChangedItemIDs возвращает идентификаторы изменённых позиций.
func (e TriggerEvent) ChangedItemIDs() []string {
	if e.ItemID == "" {
		return nil
	}
	return []string{e.ItemID}
}

// SyncEventType — тип исходящего уведомления.
type SyncEventType string

const (
	SyncEventSucceeded   SyncEventType = "sync.succeeded"
	SyncEventFailed      SyncEventType = "sync.failed"
	SyncEventErrorQueued SyncEventType = "sync.error_queued"
	SyncEventResolved    SyncEventType = "error.resolved"
)

// SyncEvent — уведомление об итоге синхронизации пары.
type SyncEvent struct {
	EventType    SyncEventType `json:"event_type"`
	RestaurantID string        `json:"restaurant_id"`
	Platform     Platform      `json:"platform"`
	ItemCount    int           `json:"item_count,omitempty"`
	ErrorID      string        `json:"error_id,omitempty"`
	Message      string        `json:"message,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}
