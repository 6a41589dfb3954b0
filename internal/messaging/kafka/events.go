package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

// Topics для Kafka
const (
	TopicMenuChanges     = "menusync.menu.changes"
	TopicSyncEvents      = "menusync.sync.events"
	TopicDeadLetterQueue = "menusync.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// DLQMessage — тело сообщения в DLQ.
type DLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// ParseTriggerEvent декодирует и валидирует событие изменения меню.
// Любая ошибка оборачивает domain.ErrInvalidTrigger.
func ParseTriggerEvent(message *sarama.ConsumerMessage) (domain.TriggerEvent, error) {
	var event domain.TriggerEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return domain.TriggerEvent{}, fmt.Errorf("%w: %w", domain.ErrInvalidTrigger, err)
	}
	if err := event.Validate(); err != nil {
		return domain.TriggerEvent{}, err
	}
	return event, nil
}
