package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

func TestSyncEventPublisher_Publish(t *testing.T) {
	producer, mockProducer := newMockProducer(t)
	publisher := NewSyncEventPublisher(producer, "")

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event domain.SyncEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.ErrorID != "err_0123456789ab" || event.Platform != domain.PlatformUberEats {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	err := publisher.PublishSyncEvent(context.Background(), domain.SyncEvent{
		EventType:    domain.SyncEventErrorQueued,
		RestaurantID: "rest_001",
		Platform:     domain.PlatformUberEats,
		ErrorID:      "err_0123456789ab",
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSyncEventPublisher_Errors(t *testing.T) {
	var nilPublisher *SyncEventPublisher
	if err := nilPublisher.PublishSyncEvent(context.Background(), domain.SyncEvent{}); err == nil {
		t.Fatal("expected error for nil publisher")
	}

	producer, mockProducer := newMockProducer(t)
	publisher := NewSyncEventPublisher(producer, "custom.topic")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.PublishSyncEvent(ctx, domain.SyncEvent{}); err == nil {
		t.Fatal("expected error for canceled context")
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	if err := publisher.PublishSyncEvent(context.Background(), domain.SyncEvent{RestaurantID: "rest_001"}); err == nil {
		t.Fatal("expected send error")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
