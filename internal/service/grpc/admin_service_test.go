package grpcsvc_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/service/admin"
	grpcsvc "github.com/vladislavdragonenkov/menusync/internal/service/grpc"
)

const bufSize = 1024 * 1024

type stubFacade struct {
	statuses      map[domain.Platform]domain.SyncStatus
	errs          []domain.SyncError
	lastFilter    domain.ErrorFilter
	lastPlatforms []domain.Platform
	lastForce     bool
	retryOutcome  domain.RetryOutcome
	failWith      error
}

func (f *stubFacade) GetStatus(_ context.Context, restaurantID string) (map[domain.Platform]domain.SyncStatus, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.statuses, nil
}

func (f *stubFacade) RunningOperations(_ context.Context, restaurantID string) ([]domain.SyncOperation, error) {
	return []domain.SyncOperation{{
		OperationID:    "op-1",
		RestaurantID:   restaurantID,
		Platform:       domain.PlatformDoorDash,
		Status:         domain.OperationRunning,
		ItemsProcessed: 1,
		TotalItems:     4,
		StartedAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}}, nil
}

func (f *stubFacade) TriggerFullRefresh(_ context.Context, restaurantID string, platforms []domain.Platform, force bool) (admin.RefreshResult, error) {
	f.lastPlatforms = platforms
	f.lastForce = force
	if f.failWith != nil {
		return admin.RefreshResult{}, f.failWith
	}
	result := admin.RefreshResult{RestaurantID: restaurantID, Accepted: true, Forced: force, Platforms: []domain.Platform{domain.PlatformDoorDash, domain.PlatformUberEats}}
	if force {
		result.Outcomes = map[domain.Platform]domain.SyncOutcome{
			domain.PlatformDoorDash: {RestaurantID: restaurantID, Platform: domain.PlatformDoorDash, Success: true, ItemCount: 25, Attempts: 1},
			domain.PlatformUberEats: {
				RestaurantID: restaurantID,
				Platform:     domain.PlatformUberEats,
				Attempts:     2,
				ErrorID:      "err_0123456789ab",
				Failure:      domain.NewPublishError(domain.PublishResult{StatusCode: 503, Message: "unavailable"}),
			},
		}
	}
	return result, nil
}

func (f *stubFacade) SyncPlatform(_ context.Context, restaurantID string, platform domain.Platform) (domain.SyncOutcome, error) {
	if !platform.IsValid() {
		return domain.SyncOutcome{}, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, platform)
	}
	return domain.SyncOutcome{RestaurantID: restaurantID, Platform: platform, Success: true, ItemCount: 3, Attempts: 1}, nil
}

func (f *stubFacade) ListErrors(_ context.Context, filter domain.ErrorFilter) ([]domain.SyncError, error) {
	f.lastFilter = filter
	return f.errs, nil
}

func (f *stubFacade) GetError(_ context.Context, errorID string) (domain.SyncError, error) {
	for _, e := range f.errs {
		if e.ErrorID == errorID {
			return e, nil
		}
	}
	return domain.SyncError{}, domain.ErrSyncErrorNotFound
}

func (f *stubFacade) RetryError(_ context.Context, errorID string) (domain.RetryOutcome, error) {
	if errorID == "err_missing" {
		return domain.RetryOutcome{}, domain.ErrSyncErrorNotFound
	}
	return f.retryOutcome, nil
}

func (f *stubFacade) ResolveError(_ context.Context, errorID string) (domain.SyncError, error) {
	at := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	return domain.SyncError{ErrorID: errorID, Resolved: true, ResolvedAt: &at}, nil
}

func (f *stubFacade) ErrorQueueStats(context.Context) (domain.ErrorQueueStats, error) {
	return domain.ErrorQueueStats{Unresolved: 2, OldestUnresolvedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}, nil
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

func newTestClient(t *testing.T, facade grpcsvc.AdminFacade, apiKeys []string) *grpcsvc.AdminClient {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.UnaryInterceptor(grpcsvc.APIKeyInterceptor(apiKeys)))
	grpcsvc.RegisterAdminServer(server, grpcsvc.NewAdminService(facade, loggerForTests()))

	go func() {
		_ = server.Serve(listener)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return grpcsvc.NewAdminClient(conn)
}

func withAPIKey(key string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), grpcsvc.APIKeyHeader, key)
}

func TestAdminService_GetStatus(t *testing.T) {
	synced := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	facade := &stubFacade{statuses: map[domain.Platform]domain.SyncStatus{
		domain.PlatformDoorDash: {RestaurantID: "rest_001", Platform: domain.PlatformDoorDash, Status: domain.SyncStateSynced, ItemCount: 25, LastSyncTime: &synced},
		domain.PlatformUberEats: domain.NewPendingStatus("rest_001", domain.PlatformUberEats),
	}}
	client := newTestClient(t, facade, nil)

	resp, err := client.Call(context.Background(), "GetStatus", map[string]any{"restaurant_id": "rest_001"})
	require.NoError(t, err)

	platforms := resp["platforms"].(map[string]any)
	doordash := platforms["doordash"].(map[string]any)
	require.Equal(t, "SYNCED", doordash["status"])
	require.Equal(t, float64(25), doordash["item_count"])
	require.Equal(t, "2024-03-01T12:00:00Z", doordash["last_sync_time"])
	require.Equal(t, "PENDING", platforms["ubereats"].(map[string]any)["status"])
}

func TestAdminService_ValidationAndErrorCodes(t *testing.T) {
	facade := &stubFacade{}
	client := newTestClient(t, facade, nil)
	ctx := context.Background()

	_, err := client.Call(ctx, "GetStatus", map[string]any{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Call(ctx, "TriggerFullRefresh", map[string]any{"restaurant_id": "rest_001", "platforms": "doordash"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Call(ctx, "SyncPlatform", map[string]any{"restaurant_id": "rest_001", "platform": "seamless"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Call(ctx, "RetryError", map[string]any{"error_id": "err_missing"})
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Call(ctx, "ListErrors", map[string]any{"resolved": "no"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	facade.failWith = domain.ErrDispatcherClosed
	_, err = client.Call(ctx, "TriggerFullRefresh", map[string]any{"restaurant_id": "rest_001"})
	require.Equal(t, codes.Unavailable, status.Code(err))

	facade.failWith = fmt.Errorf("list sync statuses: %w", fmt.Errorf("connection reset"))
	_, err = client.Call(ctx, "GetStatus", map[string]any{"restaurant_id": "rest_001"})
	require.Equal(t, codes.Internal, status.Code(err))
	require.Equal(t, "internal error", status.Convert(err).Message())
}

func TestAdminService_TriggerFullRefresh(t *testing.T) {
	facade := &stubFacade{}
	client := newTestClient(t, facade, nil)

	resp, err := client.Call(context.Background(), "TriggerFullRefresh", map[string]any{
		"restaurant_id": "rest_001",
		"platforms":     []any{"DoorDash", "ubereats"},
		"force":         true,
	})
	require.NoError(t, err)
	require.True(t, facade.lastForce)
	require.Equal(t, []domain.Platform{domain.PlatformDoorDash, domain.PlatformUberEats}, facade.lastPlatforms)

	require.Equal(t, false, resp["success"])
	results := resp["results"].([]any)
	require.Len(t, results, 2)
	require.Equal(t, true, results[0].(map[string]any)["success"])
	failed := results[1].(map[string]any)
	require.Equal(t, "err_0123456789ab", failed["error_id"])
	require.Contains(t, failed["error_message"], "unavailable")

	async, err := client.Call(context.Background(), "TriggerFullRefresh", map[string]any{"restaurant_id": "rest_001"})
	require.NoError(t, err)
	require.Equal(t, true, async["accepted"])
	_, hasResults := async["results"]
	require.False(t, hasResults)
}

func TestAdminService_ErrorQueue(t *testing.T) {
	created := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	queued := domain.SyncError{
		ErrorID:      "err_0123456789ab",
		RestaurantID: "rest_001",
		Platform:     domain.PlatformDoorDash,
		CreatedAt:    created,
		Details:      domain.ErrorDetails{Kind: domain.FailurePublish, Message: "rejected", StatusCode: 422},
		MenuSnapshot: []byte(`{"menu":{"categories":[]}}`),
		RetryCount:   1,
	}
	facade := &stubFacade{
		errs: []domain.SyncError{queued},
		retryOutcome: domain.RetryOutcome{
			Error:   queued,
			Outcome: domain.SyncOutcome{Success: false},
		},
	}
	client := newTestClient(t, facade, nil)
	ctx := context.Background()

	list, err := client.Call(ctx, "ListErrors", map[string]any{"restaurant_id": "rest_001", "platform": "doordash", "resolved": false, "limit": 10})
	require.NoError(t, err)
	require.Equal(t, "rest_001", facade.lastFilter.RestaurantID)
	require.NotNil(t, facade.lastFilter.Resolved)
	require.False(t, *facade.lastFilter.Resolved)
	require.Equal(t, 10, facade.lastFilter.Limit)

	items := list["errors"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	require.Equal(t, float64(422), item["error_details"].(map[string]any)["status_code"])
	require.NotNil(t, item["menu_snapshot"].(map[string]any)["menu"])

	got, err := client.Call(ctx, "GetError", map[string]any{"error_id": "err_0123456789ab"})
	require.NoError(t, err)
	require.Equal(t, float64(1), got["retry_count"])

	retry, err := client.Call(ctx, "RetryError", map[string]any{"error_id": "err_0123456789ab"})
	require.NoError(t, err)
	require.Equal(t, false, retry["success"])
	require.Equal(t, "sync failed, error remains queued", retry["message"])

	resolved, err := client.Call(ctx, "ResolveError", map[string]any{"error_id": "err_0123456789ab"})
	require.NoError(t, err)
	require.Equal(t, true, resolved["resolved"])

	stats, err := client.Call(ctx, "GetErrorQueueStats", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, float64(2), stats["unresolved"])
	require.Equal(t, "2024-03-01T10:00:00Z", stats["oldest_unresolved_at"])

	ops, err := client.Call(ctx, "ListRunningOperations", map[string]any{"restaurant_id": "rest_001"})
	require.NoError(t, err)
	op := ops["operations"].([]any)[0].(map[string]any)
	require.Equal(t, float64(25), op["progress_percentage"])
}

func TestAdminService_APIKey(t *testing.T) {
	facade := &stubFacade{statuses: map[domain.Platform]domain.SyncStatus{}}
	client := newTestClient(t, facade, []string{"secret-key"})
	req := map[string]any{"restaurant_id": "rest_001"}

	_, err := client.Call(context.Background(), "GetStatus", req)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.Call(withAPIKey("wrong"), "GetStatus", req)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.Call(withAPIKey("secret-key"), "GetStatus", req)
	require.NoError(t, err)
}
