package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/menusync/internal/config"
	grpcsvc "github.com/vladislavdragonenkov/menusync/internal/service/grpc"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := testConfig()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "invalid-driver"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRun_GRPCAddrInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	cfg := testConfig()
	cfg.Service.GRPCAddr = listener.Addr().String()

	err = Run(context.Background(), cfg)
	require.Error(t, err)
}

func TestRun_ServesAdminAPI(t *testing.T) {
	cfg := testConfig()
	cfg.Service.GRPCAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	cfg.Service.APIKeys = []string{"secret-key"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- Run(ctx, cfg)
	}()

	conn, err := grpc.NewClient(cfg.Service.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	healthClient := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		callCtx, callCancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer callCancel()
		resp, err := healthClient.Check(callCtx, &healthpb.HealthCheckRequest{Service: grpcsvc.AdminServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 3*time.Second, 50*time.Millisecond)

	client := grpcsvc.NewAdminClient(conn)

	_, err = client.Call(ctx, "GetStatus", map[string]any{"restaurant_id": "rest_001"})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	authCtx := metadata.AppendToOutgoingContext(ctx, grpcsvc.APIKeyHeader, "secret-key")
	resp, err := client.Call(authCtx, "GetStatus", map[string]any{"restaurant_id": "rest_001"})
	require.NoError(t, err)

	platforms := resp["platforms"].(map[string]any)
	require.Len(t, platforms, 2)
	require.Equal(t, "PENDING", platforms["doordash"].(map[string]any)["status"])
	require.Equal(t, "PENDING", platforms["grubhub"].(map[string]any)["status"])

	stats, err := client.Call(authCtx, "GetErrorQueueStats", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, float64(0), stats["unresolved"])

	cancel()
	select {
	case err := <-runErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestConfigValidation_RejectsMissingPlatforms(t *testing.T) {
	cfg := testConfig()
	cfg.Platforms = config.Default().Platforms

	err := Run(context.Background(), cfg)
	require.Error(t, err)
}
