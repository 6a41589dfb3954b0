package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

func TestKeyedLock_SerializesSameKey(t *testing.T) {
	locks := newKeyedLock()
	key := domain.PairKey{RestaurantID: "rest_001", Platform: domain.PlatformDoorDash}

	unlock, err := locks.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if !locks.Locked(key) {
		t.Fatal("expected key to be locked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected waiting lock to time out, got %v", err)
	}

	unlock()
	unlock()
	if locks.Locked(key) {
		t.Fatal("expected key to be released")
	}

	unlock2, err := locks.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("relock failed: %v", err)
	}
	unlock2()

	if len(locks.entries) != 0 {
		t.Fatalf("expected entries to be cleaned up, got %d", len(locks.entries))
	}
}

func TestKeyedLock_DifferentKeysDoNotBlock(t *testing.T) {
	locks := newKeyedLock()
	first := domain.PairKey{RestaurantID: "rest_001", Platform: domain.PlatformDoorDash}
	second := domain.PairKey{RestaurantID: "rest_001", Platform: domain.PlatformUberEats}

	unlockFirst, err := locks.Lock(context.Background(), first)
	if err != nil {
		t.Fatalf("lock first failed: %v", err)
	}
	defer unlockFirst()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockSecond, err := locks.Lock(ctx, second)
	if err != nil {
		t.Fatalf("lock on another key must not wait: %v", err)
	}
	unlockSecond()
}
