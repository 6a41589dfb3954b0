package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/menusource"
	"github.com/vladislavdragonenkov/menusync/internal/platform"
	"github.com/vladislavdragonenkov/menusync/internal/service/admin"
	"github.com/vladislavdragonenkov/menusync/internal/service/syncer"
	"github.com/vladislavdragonenkov/menusync/internal/storage/memory"
)

const restaurantID = "rest_001"

// fakePlatform имитирует API платформы: токен, публикацию и управляемые сбои.
type fakePlatform struct {
	server     *httptest.Server
	authCalls  atomic.Int32
	menuCalls  atomic.Int32
	failStatus atomic.Int32
	lastAuth   atomic.Value
	menuID     string
}

func newFakePlatform(menuPath, menuID string) *fakePlatform {
	fp := &fakePlatform{menuID: menuID}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, _ *http.Request) {
		fp.authCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"token-1","expires_in":3600}`))
	})
	mux.HandleFunc("PUT "+menuPath, func(w http.ResponseWriter, r *http.Request) {
		fp.menuCalls.Add(1)
		fp.lastAuth.Store(r.Header.Get("Authorization") + r.Header.Get("X-GH-Partner-Key"))
		if status := fp.failStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			_, _ = w.Write([]byte(`{"error":"platform unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"menu_id": fp.menuID})
	})
	fp.server = httptest.NewServer(mux)
	return fp
}

// MenuSyncTestSuite проверяет путь от сервиса меню до платформ на in-memory хранилищах.
type MenuSyncTestSuite struct {
	suite.Suite

	menuServer  *httptest.Server
	menuFetches atomic.Int32
	doordash    *fakePlatform
	grubhub     *fakePlatform

	statuses   domain.StatusStore
	errors     domain.ErrorStore
	dispatcher *syncer.Dispatcher
	admin      *admin.Service
}

func (s *MenuSyncTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.menuFetches.Store(0)
	s.menuServer = httptest.NewServer(http.HandlerFunc(s.serveMenu))
	s.doordash = newFakePlatform("/v1/stores/ext_"+restaurantID+"/menu", "dd-menu-1")
	s.grubhub = newFakePlatform("/pos/v1/merchant/"+restaurantID+"/menu", "gh-menu-1")

	source, err := menusource.NewClient(menusource.Config{BaseURL: s.menuServer.URL}, logger)
	s.Require().NoError(err)

	httpOptions := platform.HTTPOptions{Timeout: 5 * time.Second, RequestsPerSecond: 100, Burst: 100, Logger: logger}
	doordash, err := platform.NewDoorDashAdapter(platform.DoorDashConfig{
		ClientID:     "dd-client",
		ClientSecret: "dd-secret",
		BaseURL:      s.doordash.server.URL,
	}, httpOptions)
	s.Require().NoError(err)
	grubhub, err := platform.NewGrubhubAdapter(platform.GrubhubConfig{
		APIKey:  "gh-key",
		BaseURL: s.grubhub.server.URL,
	}, httpOptions)
	s.Require().NoError(err)

	s.statuses = memory.NewStatusRepository()
	s.errors = memory.NewErrorRepository()
	operations := memory.NewOperationRepository()

	orchestrator, err := syncer.NewOrchestrator(syncer.Dependencies{
		Source:     source,
		Adapters:   []domain.PlatformAdapter{doordash, grubhub},
		Statuses:   s.statuses,
		Errors:     s.errors,
		Operations: operations,
	}, syncer.Config{RetryDelay: 10 * time.Millisecond}, syncer.WithLogger(logger))
	s.Require().NoError(err)

	s.dispatcher = syncer.NewDispatcher(orchestrator, syncer.DispatcherOptions{MaxConcurrentSyncs: 4, Logger: logger})
	s.admin, err = admin.NewService(admin.Dependencies{
		Orchestrator: orchestrator,
		Dispatcher:   s.dispatcher,
		Statuses:     s.statuses,
		Errors:       s.errors,
		Operations:   operations,
	}, logger)
	s.Require().NoError(err)
}

func (s *MenuSyncTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.dispatcher.Shutdown(ctx)

	s.menuServer.Close()
	s.doordash.server.Close()
	s.grubhub.server.Close()
}

func (s *MenuSyncTestSuite) serveMenu(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/items"):
		s.menuFetches.Add(1)
		_, _ = w.Write([]byte(`{"items":[
			{"id":"item_1","name":"Margherita","price":"12.50","category_id":"pizza","available":true},
			{"id":"item_2","name":"Pepperoni","price":"14.00","category_id":"pizza"},
			{"id":"item_3","name":"Lemonade","price":"3.25","category_id":"drinks","available":false}
		]}`))
	case strings.HasSuffix(r.URL.Path, "/categories"):
		_, _ = w.Write([]byte(`{"categories":[
			{"id":"pizza","name":"Pizza","sort_order":1},
			{"id":"drinks","name":"Drinks","sort_order":2}
		]}`))
	default:
		http.NotFound(w, r)
	}
}

func (s *MenuSyncTestSuite) statusOf(p domain.Platform) domain.SyncStatus {
	statuses, err := s.admin.GetStatus(context.Background(), restaurantID)
	s.Require().NoError(err)
	status, ok := statuses[p]
	s.Require().True(ok, "status for %s is missing", p)
	return status
}

func (s *MenuSyncTestSuite) TestInitialStatusIsPending() {
	statuses, err := s.admin.GetStatus(context.Background(), restaurantID)
	s.Require().NoError(err)
	s.Len(statuses, 2)
	for p, status := range statuses {
		s.Equal(domain.SyncStatePending, status.Status, "platform %s", p)
	}
}

func (s *MenuSyncTestSuite) TestForcedRefreshPublishesToAllPlatforms() {
	result, err := s.admin.TriggerFullRefresh(context.Background(), restaurantID, nil, true)
	s.Require().NoError(err)
	s.True(result.Forced)
	s.True(result.Succeeded())
	s.ElementsMatch([]domain.Platform{domain.PlatformDoorDash, domain.PlatformGrubhub}, result.Platforms)

	doordash := s.statusOf(domain.PlatformDoorDash)
	s.Equal(domain.SyncStateSynced, doordash.Status)
	s.Equal(3, doordash.ItemCount)
	s.Equal("dd-menu-1", doordash.ExternalMenuID)
	s.Zero(doordash.RetryCount)
	s.NotNil(doordash.LastSyncTime)

	grubhub := s.statusOf(domain.PlatformGrubhub)
	s.Equal(domain.SyncStateSynced, grubhub.Status)
	s.Equal("gh-menu-1", grubhub.ExternalMenuID)

	s.EqualValues(1, s.doordash.authCalls.Load())
	s.Equal("Bearer token-1", s.doordash.lastAuth.Load())
	s.Equal("gh-key", s.grubhub.lastAuth.Load())

	// Токен DoorDash переиспользуется между синхронизациями.
	_, err = s.admin.SyncPlatform(context.Background(), restaurantID, domain.PlatformDoorDash)
	s.Require().NoError(err)
	s.EqualValues(1, s.doordash.authCalls.Load())
	s.EqualValues(2, s.doordash.menuCalls.Load())
}

func (s *MenuSyncTestSuite) TestPublishFailureEscalatesAndManualRetryResolves() {
	ctx := context.Background()
	s.doordash.failStatus.Store(http.StatusServiceUnavailable)

	outcome, err := s.admin.SyncPlatform(ctx, restaurantID, domain.PlatformDoorDash)
	s.Require().NoError(err)
	s.False(outcome.Success)
	s.Require().NotEmpty(outcome.ErrorID)
	s.Equal(2, outcome.Attempts)
	s.EqualValues(2, s.doordash.menuCalls.Load())
	s.EqualValues(2, s.menuFetches.Load(), "retry re-fetches the menu")

	status := s.statusOf(domain.PlatformDoorDash)
	s.Equal(domain.SyncStateFailed, status.Status)
	s.Equal(1, status.RetryCount)
	s.Contains(status.LastError, "503")

	unresolved := false
	queued, err := s.admin.ListErrors(ctx, domain.ErrorFilter{RestaurantID: restaurantID, Resolved: &unresolved})
	s.Require().NoError(err)
	s.Require().Len(queued, 1)
	s.Equal(outcome.ErrorID, queued[0].ErrorID)
	s.Equal(domain.FailurePublish, queued[0].Details.Kind)
	s.Equal(http.StatusServiceUnavailable, queued[0].Details.StatusCode)
	s.True(json.Valid(queued[0].MenuSnapshot))

	stats, err := s.admin.ErrorQueueStats(ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.Unresolved)

	// Ручной повтор при недоступной платформе увеличивает счётчик.
	retry, err := s.admin.RetryError(ctx, outcome.ErrorID)
	s.Require().NoError(err)
	s.False(retry.Outcome.Success)
	s.Equal(2, retry.Error.RetryCount)
	s.False(retry.Error.Resolved)

	s.doordash.failStatus.Store(0)
	retry, err = s.admin.RetryError(ctx, outcome.ErrorID)
	s.Require().NoError(err)
	s.True(retry.Outcome.Success)
	s.True(retry.Error.Resolved)
	s.NotNil(retry.Error.ResolvedAt)

	status = s.statusOf(domain.PlatformDoorDash)
	s.Equal(domain.SyncStateSynced, status.Status)
	s.Empty(status.LastError)

	stats, err = s.admin.ErrorQueueStats(ctx)
	s.Require().NoError(err)
	s.Zero(stats.Unresolved)

	// Повтор разобранной записи ничего не публикует.
	calls := s.doordash.menuCalls.Load()
	retry, err = s.admin.RetryError(ctx, outcome.ErrorID)
	s.Require().NoError(err)
	s.True(retry.AlreadyResolved)
	s.Equal(calls, s.doordash.menuCalls.Load())
}

func (s *MenuSyncTestSuite) TestResolveErrorIsIdempotent() {
	ctx := context.Background()
	s.grubhub.failStatus.Store(http.StatusBadRequest)

	outcome, err := s.admin.SyncPlatform(ctx, restaurantID, domain.PlatformGrubhub)
	s.Require().NoError(err)
	s.Require().NotEmpty(outcome.ErrorID)

	first, err := s.admin.ResolveError(ctx, outcome.ErrorID)
	s.Require().NoError(err)
	s.True(first.Resolved)

	second, err := s.admin.ResolveError(ctx, outcome.ErrorID)
	s.Require().NoError(err)
	s.Equal(first.ResolvedAt, second.ResolvedAt)

	_, err = s.admin.ResolveError(ctx, "missing")
	s.True(domain.IsNotFound(err))
}

func (s *MenuSyncTestSuite) TestTriggerIsDispatchedAsynchronously() {
	result, err := s.admin.TriggerFullRefresh(context.Background(), restaurantID, []domain.Platform{domain.PlatformGrubhub}, false)
	s.Require().NoError(err)
	s.True(result.Accepted)
	s.False(result.Forced)
	s.Equal([]domain.Platform{domain.PlatformGrubhub}, result.Platforms)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(s.dispatcher.Shutdown(ctx))

	s.Equal(domain.SyncStateSynced, s.statusOf(domain.PlatformGrubhub).Status)
	s.Equal(domain.SyncStatePending, s.statusOf(domain.PlatformDoorDash).Status)
	s.Zero(s.doordash.menuCalls.Load())
}

func (s *MenuSyncTestSuite) TestEmptyRestaurantIsRejected() {
	outcome, err := s.admin.SyncPlatform(context.Background(), "", domain.PlatformGrubhub)
	s.Require().ErrorIs(err, domain.ErrRestaurantRequired)
	s.Empty(outcome.ErrorID)
}

func TestMenuSyncSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration suite is skipped in short mode")
	}
	suite.Run(t, new(MenuSyncTestSuite))
}
