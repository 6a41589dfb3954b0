package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/metrics"
)

// TriggerDispatcher принимает триггеры изменения меню.
type TriggerDispatcher interface {
	HandleTrigger(ctx context.Context, restaurantID string, changedItemIDs []string, platforms []domain.Platform) ([]domain.Platform, error)
}

// NewTriggerHandler возвращает MessageHandler, передающий события изменения меню диспетчеру.
// Невалидные события возвращают ошибку с domain.ErrInvalidTrigger, и consumer
// отправляет их в DLQ без повторов.
func NewTriggerHandler(dispatcher TriggerDispatcher, m *metrics.SyncMetrics, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "trigger-handler")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseTriggerEvent(message)
		if err != nil {
			m.RecordTrigger("invalid")
			return err
		}

		platforms, err := dispatcher.HandleTrigger(ctx, event.RestaurantID, event.ChangedItemIDs(), event.Platforms)
		if err != nil {
			if errors.Is(err, domain.ErrRestaurantRequired) {
				return errors.Join(domain.ErrInvalidTrigger, err)
			}
			return err
		}

		logger.WithFields(log.Fields{
			"restaurant_id": event.RestaurantID,
			"event_type":    event.EventType,
			"item_id":       event.ItemID,
			"platforms":     platforms,
		}).Debug("menu change dispatched")
		return nil
	}
}
