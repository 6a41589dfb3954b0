package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

type gatedSyncer struct {
	platforms []domain.Platform
	started   chan domain.PairKey
	release   chan struct{}

	mu        sync.Mutex
	calls     map[domain.PairKey]int
	inFlight  int
	maxGlobal int
}

func newGatedSyncer(platforms ...domain.Platform) *gatedSyncer {
	return &gatedSyncer{
		platforms: platforms,
		started:   make(chan domain.PairKey, 64),
		calls:     make(map[domain.PairKey]int),
	}
}

func (s *gatedSyncer) Sync(ctx context.Context, restaurantID string, platform domain.Platform) (domain.SyncOutcome, error) {
	key := domain.PairKey{RestaurantID: restaurantID, Platform: platform}
	s.mu.Lock()
	s.calls[key]++
	s.inFlight++
	if s.inFlight > s.maxGlobal {
		s.maxGlobal = s.inFlight
	}
	s.mu.Unlock()

	s.started <- key
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return domain.SyncOutcome{RestaurantID: restaurantID, Platform: platform, Success: true}, nil
}

func (s *gatedSyncer) Supports(platform domain.Platform) bool {
	for _, p := range s.platforms {
		if p == platform {
			return true
		}
	}
	return false
}

func (s *gatedSyncer) Platforms() []domain.Platform {
	return s.platforms
}

func (s *gatedSyncer) callsFor(restaurantID string, platform domain.Platform) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[domain.PairKey{RestaurantID: restaurantID, Platform: platform}]
}

func shutdown(t *testing.T, d *Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestDispatcher_CoalescesTriggersWhileRunning(t *testing.T) {
	syncer := newGatedSyncer(domain.AllPlatforms()...)
	syncer.release = make(chan struct{})
	d := NewDispatcher(syncer, DispatcherOptions{})
	ctx := context.Background()
	target := []domain.Platform{domain.PlatformUberEats}

	if _, err := d.HandleTrigger(ctx, "rest_001", []string{"item-1"}, target); err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}
	<-syncer.started

	for i := 0; i < 2; i++ {
		scheduled, err := d.HandleTrigger(ctx, "rest_001", []string{"item-2"}, target)
		if err != nil {
			t.Fatalf("trigger %d failed: %v", i, err)
		}
		if len(scheduled) != 1 {
			t.Fatalf("expected coalesced trigger to be accepted, got %v", scheduled)
		}
	}
	if !d.Running("rest_001", domain.PlatformUberEats) {
		t.Fatal("expected pair to be running")
	}

	close(syncer.release)
	waitFor(t, func() bool { return !d.Running("rest_001", domain.PlatformUberEats) })
	shutdown(t, d)

	if got := syncer.callsFor("rest_001", domain.PlatformUberEats); got != 2 {
		t.Fatalf("expected exactly one follow-up run (2 total), got %d", got)
	}
}

func TestDispatcher_FansOutToConfiguredPlatforms(t *testing.T) {
	syncer := newGatedSyncer(domain.PlatformDoorDash, domain.PlatformGrubhub)
	d := NewDispatcher(syncer, DispatcherOptions{})

	scheduled, err := d.HandleTrigger(context.Background(), "rest_001", nil, nil)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if len(scheduled) != 2 {
		t.Fatalf("expected 2 scheduled platforms, got %v", scheduled)
	}
	shutdown(t, d)

	for _, p := range []domain.Platform{domain.PlatformDoorDash, domain.PlatformGrubhub} {
		if got := syncer.callsFor("rest_001", p); got != 1 {
			t.Fatalf("expected one run for %s, got %d", p, got)
		}
	}
}

func TestDispatcher_UsesResolverOverrides(t *testing.T) {
	syncer := newGatedSyncer(domain.AllPlatforms()...)
	d := NewDispatcher(syncer, DispatcherOptions{
		Resolver: StaticPlatformResolver{
			Default:   domain.AllPlatforms(),
			Overrides: map[string][]domain.Platform{"rest_042": {domain.PlatformGrubhub}},
		},
	})

	scheduled, err := d.HandleTrigger(context.Background(), "rest_042", nil, nil)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	shutdown(t, d)

	if len(scheduled) != 1 || scheduled[0] != domain.PlatformGrubhub {
		t.Fatalf("expected override platform only, got %v", scheduled)
	}
	if syncer.callsFor("rest_042", domain.PlatformDoorDash) != 0 {
		t.Fatal("doordash must not be synced for overridden restaurant")
	}
}

func TestDispatcher_SkipsUnknownPlatforms(t *testing.T) {
	syncer := newGatedSyncer(domain.PlatformDoorDash)
	d := NewDispatcher(syncer, DispatcherOptions{})

	scheduled, err := d.HandleTrigger(context.Background(), "rest_001", nil, []domain.Platform{"myspace", domain.PlatformGrubhub, domain.PlatformDoorDash})
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	shutdown(t, d)

	if len(scheduled) != 1 || scheduled[0] != domain.PlatformDoorDash {
		t.Fatalf("expected only doordash to be scheduled, got %v", scheduled)
	}
}

func TestDispatcher_RespectsConcurrencyLimit(t *testing.T) {
	syncer := newGatedSyncer(domain.AllPlatforms()...)
	syncer.release = make(chan struct{})
	d := NewDispatcher(syncer, DispatcherOptions{MaxConcurrentSyncs: 2})
	ctx := context.Background()

	for _, rid := range []string{"rest_001", "rest_002", "rest_003"} {
		if _, err := d.HandleTrigger(ctx, rid, nil, nil); err != nil {
			t.Fatalf("trigger failed: %v", err)
		}
	}

	<-syncer.started
	<-syncer.started
	close(syncer.release)
	shutdown(t, d)

	if syncer.maxGlobal > 2 {
		t.Fatalf("expected at most 2 concurrent syncs, got %d", syncer.maxGlobal)
	}
	for _, rid := range []string{"rest_001", "rest_002", "rest_003"} {
		for _, p := range domain.AllPlatforms() {
			if got := syncer.callsFor(rid, p); got != 1 {
				t.Fatalf("expected one run for %s/%s, got %d", rid, p, got)
			}
		}
	}
}

func TestDispatcher_RejectsAfterShutdown(t *testing.T) {
	d := NewDispatcher(newGatedSyncer(domain.PlatformDoorDash), DispatcherOptions{})
	shutdown(t, d)

	if _, err := d.HandleTrigger(context.Background(), "rest_001", nil, nil); !errors.Is(err, domain.ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
	if _, err := d.HandleTrigger(context.Background(), "", nil, nil); err == nil {
		t.Fatal("expected validation error for empty restaurant")
	}
}

func TestDispatcher_ShutdownDeadlineCancelsRuns(t *testing.T) {
	syncer := newGatedSyncer(domain.PlatformDoorDash)
	syncer.release = make(chan struct{})
	d := NewDispatcher(syncer, DispatcherOptions{})

	if _, err := d.HandleTrigger(context.Background(), "rest_001", nil, nil); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	<-syncer.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if d.Running("rest_001", domain.PlatformDoorDash) {
		t.Fatal("run must be finished after shutdown returns")
	}
}

func TestDispatcher_WithOrchestratorKeepsOneRunningOperation(t *testing.T) {
	f := newFixture(t, 3, domain.PlatformUberEats)
	adapter := f.adapters[domain.PlatformUberEats]
	adapter.started = make(chan struct{}, 1)
	adapter.block = make(chan struct{})
	d := NewDispatcher(f.orch, DispatcherOptions{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := d.HandleTrigger(ctx, "rest_001", nil, nil); err != nil {
			t.Fatalf("trigger failed: %v", err)
		}
	}
	<-adapter.started

	running, err := f.operations.ListRunning(ctx, "rest_001")
	if err != nil {
		t.Fatalf("list running failed: %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("expected one RUNNING operation, got %d", len(running))
	}

	close(adapter.block)
	shutdown(t, d)

	if got := adapter.calls(); got != 2 {
		t.Fatalf("expected initial run plus one coalesced follow-up, got %d", got)
	}
	status, _ := f.statuses.Get(ctx, "rest_001", domain.PlatformUberEats)
	if status.Status != domain.SyncStateSynced {
		t.Fatalf("expected SYNCED, got %s", status.Status)
	}
}
