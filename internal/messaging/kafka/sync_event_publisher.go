package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

// SyncEventPublisher публикует итоги синхронизации в Kafka topic.
type SyncEventPublisher struct {
	producer *Producer
	topic    string
}

// NewSyncEventPublisher создаёт паблишер уведомлений о синхронизации.
func NewSyncEventPublisher(producer *Producer, topic string) *SyncEventPublisher {
	if topic == "" {
		topic = TopicSyncEvents
	}
	return &SyncEventPublisher{producer: producer, topic: topic}
}

// PublishSyncEvent отправляет событие с ключом пары, сохраняя порядок событий одной пары.
func (p *SyncEventPublisher) PublishSyncEvent(ctx context.Context, event domain.SyncEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka sync event publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := domain.PairKey{RestaurantID: event.RestaurantID, Platform: event.Platform}.String()
	return p.producer.PublishEvent(p.topic, key, event)
}

var _ domain.SyncEventPublisher = (*SyncEventPublisher)(nil)
