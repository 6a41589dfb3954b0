package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/storage/memory"
)

type stubSource struct {
	mu       sync.Mutex
	items    int
	failures []error
	calls    int
}

func (s *stubSource) Fetch(_ context.Context, restaurantID string) (domain.Menu, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return domain.Menu{}, err
		}
	}

	menu := domain.Menu{
		RestaurantID: restaurantID,
		Categories:   []domain.Category{{ID: "cat-1", RestaurantID: restaurantID, Name: "Mains"}},
		FetchedAt:    time.Now().UTC(),
	}
	for i := 0; i < s.items; i++ {
		menu.Items = append(menu.Items, domain.MenuItem{
			ID:           fmt.Sprintf("item-%d", i),
			RestaurantID: restaurantID,
			Name:         fmt.Sprintf("Dish %d", i),
			Price:        decimal.RequireFromString("9.99"),
			CategoryID:   "cat-1",
			Available:    true,
		})
	}
	return menu, nil
}

func (s *stubSource) fetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubAdapter struct {
	platform  domain.Platform
	formatErr error
	started   chan struct{}
	block     chan struct{}

	mu           sync.Mutex
	results      []domain.PublishResult
	publishCalls int
	inFlight     int
	maxInFlight  int
}

func newStubAdapter(platform domain.Platform) *stubAdapter {
	return &stubAdapter{platform: platform}
}

func (a *stubAdapter) Platform() domain.Platform { return a.platform }

func (a *stubAdapter) Format(items []domain.MenuItem, _ []domain.Category) (domain.FormattedMenu, error) {
	if a.formatErr != nil {
		return domain.FormattedMenu{}, a.formatErr
	}
	payload, _ := json.Marshal(map[string]int{"items": len(items)})
	return domain.FormattedMenu{Platform: a.platform, Payload: payload, ItemCount: len(items)}, nil
}

func (a *stubAdapter) Publish(_ context.Context, _ string, _ domain.FormattedMenu) domain.PublishResult {
	a.mu.Lock()
	a.publishCalls++
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	result := domain.PublishResult{Success: true, ExternalMenuID: "ext-menu-1", StatusCode: 200}
	if len(a.results) > 0 {
		result = a.results[0]
		a.results = a.results[1:]
	}
	a.mu.Unlock()

	if a.started != nil {
		select {
		case a.started <- struct{}{}:
		default:
		}
	}
	if a.block != nil {
		<-a.block
	}

	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()
	return result
}

func (a *stubAdapter) setResults(results ...domain.PublishResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = results
}

func (a *stubAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.publishCalls
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.SyncEvent
}

func (r *recordingEvents) PublishSyncEvent(_ context.Context, event domain.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) types() []domain.SyncEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]domain.SyncEventType, 0, len(r.events))
	for _, e := range r.events {
		result = append(result, e.EventType)
	}
	return result
}

type failingStatusStore struct {
	domain.StatusStore
}

func (f failingStatusStore) Put(context.Context, domain.SyncStatus) error {
	return errors.New("database is down")
}

// flakyReadStatusStore отказывает в чтении заданное число раз.
type flakyReadStatusStore struct {
	domain.StatusStore

	mu        sync.Mutex
	failReads int
}

func (f *flakyReadStatusStore) Get(ctx context.Context, restaurantID string, platform domain.Platform) (domain.SyncStatus, error) {
	f.mu.Lock()
	if f.failReads > 0 {
		f.failReads--
		f.mu.Unlock()
		return domain.SyncStatus{}, errors.New("read timeout")
	}
	f.mu.Unlock()
	return f.StatusStore.Get(ctx, restaurantID, platform)
}

func (f *flakyReadStatusStore) failNextReads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = n
}

type fixture struct {
	source     *stubSource
	adapters   map[domain.Platform]*stubAdapter
	statuses   domain.StatusStore
	errors     domain.ErrorStore
	operations domain.OperationStore
	events     *recordingEvents
	orch       *Orchestrator
}

func newFixture(t *testing.T, items int, platforms ...domain.Platform) *fixture {
	t.Helper()

	if len(platforms) == 0 {
		platforms = []domain.Platform{domain.PlatformDoorDash}
	}
	f := &fixture{
		source:     &stubSource{items: items},
		adapters:   make(map[domain.Platform]*stubAdapter),
		statuses:   memory.NewStatusRepository(),
		errors:     memory.NewErrorRepository(),
		operations: memory.NewOperationRepository(),
		events:     &recordingEvents{},
	}
	adapters := make([]domain.PlatformAdapter, 0, len(platforms))
	for _, p := range platforms {
		a := newStubAdapter(p)
		f.adapters[p] = a
		adapters = append(adapters, a)
	}
	f.build(t, adapters)
	return f
}

func (f *fixture) build(t *testing.T, adapters []domain.PlatformAdapter) {
	t.Helper()

	orch, err := NewOrchestrator(Dependencies{
		Source:     f.source,
		Adapters:   adapters,
		Statuses:   f.statuses,
		Errors:     f.errors,
		Operations: f.operations,
		Events:     f.events,
	}, Config{RetryDelay: 0})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	f.orch = orch
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
