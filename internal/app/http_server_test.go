package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/menusync/internal/health"
	"github.com/vladislavdragonenkov/menusync/internal/version"
)

func TestStartMetricsServer_Endpoints(t *testing.T) {
	logger := log.WithField("test", "http")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", func(context.Context) error { return nil }))
	srv := startMetricsServer(ctx, addr, logger, healthHandler)
	if srv == nil {
		t.Fatal("startMetricsServer should not return nil")
	}
	waitForHTTP(t, fmt.Sprintf("http://%s/livez", addr))

	cases := []struct {
		path string
		body string
	}{
		{path: "/metrics"},
		{path: "/healthz"},
		{path: "/livez", body: "ok"},
		{path: "/readyz", body: "ready"},
	}
	for _, tc := range cases {
		status, body := httpGet(t, fmt.Sprintf("http://%s%s", addr, tc.path))
		if status != http.StatusOK {
			t.Errorf("%s returned status %d, expected 200", tc.path, status)
		}
		if tc.body != "" && body != tc.body {
			t.Errorf("%s returned body %q, expected %q", tc.path, body, tc.body)
		}
		if body == "" {
			t.Errorf("%s returned empty body", tc.path)
		}
	}
}

func TestStartMetricsServer_NotReadyWhenStoreIsDown(t *testing.T) {
	logger := log.WithField("test", "http-not-ready")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", func(context.Context) error {
		return errors.New("connection refused")
	}))
	startMetricsServer(ctx, addr, logger, healthHandler)
	waitForHTTP(t, fmt.Sprintf("http://%s/livez", addr))

	if status, _ := httpGet(t, fmt.Sprintf("http://%s/readyz", addr)); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from /readyz, got %d", status)
	}
	if status, _ := httpGet(t, fmt.Sprintf("http://%s/healthz", addr)); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from /healthz, got %d", status)
	}
	if status, _ := httpGet(t, fmt.Sprintf("http://%s/livez", addr)); status != http.StatusOK {
		t.Fatalf("liveness must not depend on components, got %d", status)
	}
}

func TestStartMetricsServer_ShutdownOnContextCancel(t *testing.T) {
	logger := log.WithField("test", "http-shutdown")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	url := fmt.Sprintf("http://%s/livez", addr)

	ctx, cancel := context.WithCancel(context.Background())
	startMetricsServer(ctx, addr, logger, healthcheck.NewHandler(version.GetVersion()))
	waitForHTTP(t, url)

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err != nil {
			return
		}
		resp.Body.Close()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server should be stopped after context cancellation")
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp.StatusCode, string(body)
}

func waitForHTTP(t *testing.T, url string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server %s did not start", url)
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
