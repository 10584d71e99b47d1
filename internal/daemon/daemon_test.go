package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/config"
	"github.com/matheus3301/livechat/internal/lock"
	"github.com/matheus3301/livechat/internal/mockbackend"
	"github.com/matheus3301/livechat/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// shortTempDir keeps unix socket paths under the 104-char macOS limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "livechat-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func startBackend(t *testing.T, wrap func(http.Handler) http.Handler) (*mockbackend.Server, *config.Config) {
	t.Helper()
	mock := mockbackend.New(nil)
	var h http.Handler = mock.Handler()
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		mock.Close()
		srv.Close()
	})

	cfg := config.Default()
	cfg.BaseURL = srv.URL
	cfg.ProjectID = "p1"
	cfg.Timing.PollInterval = config.Duration{Duration: 20 * time.Millisecond}
	return mock, cfg
}

func healthClient(t *testing.T, socketPath string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func waitStatus(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last healthpb.HealthCheckResponse_ServingStatus
	for time.Now().Before(deadline) {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: TransportService})
		if err == nil {
			last = resp.Status
			if last == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("transport health = %v, want %v", last, want)
}

func TestHealthFollowsTransport(t *testing.T) {
	tmpDir := shortTempDir(t)
	socketPath := filepath.Join(tmpDir, "d.sock")
	mock, cfg := startBackend(t, nil)
	logger := zap.NewNop()

	db, err := OpenStore(filepath.Join(tmpDir, "livechat.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	b := bus.New()
	conv := NewConversation(cfg, db, b, logger)
	health := NewHealth(b, conv, logger)
	health.Start()
	defer health.Stop()

	srv, err := NewServer(Params{SocketPath: socketPath}, logger, health)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	client := healthClient(t, socketPath)
	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)

	if err := conv.Open(context.Background()); err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer func() { _ = conv.Close() }()
	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	mock.SetSocketEnabled(false)
	mock.DropConnections(conv.Session().ID)
	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)

	mock.SetSocketEnabled(true)
	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	cp, err := db.GetCheckpoint("reconcile:" + conv.Session().ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(cp, "0@") {
		t.Errorf("reconcile checkpoint = %q, want 0@<time>", cp)
	}
}

func TestOpenerRetriesUntilBackendRecovers(t *testing.T) {
	var failures atomic.Int32
	failures.Store(3)
	_, cfg := startBackend(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/widget/sessions" && failures.Add(-1) >= 0 {
				http.Error(w, "warming up", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	tmpDir := shortTempDir(t)
	logger := zap.NewNop()

	db, err := OpenStore(filepath.Join(tmpDir, "livechat.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	conv := NewConversation(cfg, db, bus.New(), logger)
	opener := NewOpener(conv, 10*time.Millisecond, logger)
	opener.Start()
	opener.Start()

	deadline := time.Now().Add(3 * time.Second)
	for conv.Session() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if conv.Session() == nil {
		t.Fatal("conversation never opened")
	}
	if got := failures.Load(); got >= 0 {
		t.Errorf("failures left = %d, want all consumed", got)
	}

	visitorID, err := db.VisitorID()
	if err != nil {
		t.Fatal(err)
	}
	if visitorID == "" || visitorID != conv.Session().VisitorID {
		t.Errorf("stored visitor id = %q, session visitor id = %q", visitorID, conv.Session().VisitorID)
	}

	if err := opener.Stop(); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	if err := opener.Stop(); err != nil {
		t.Fatalf("second Stop error = %v", err)
	}
}

func TestOpenerGivesUpOnRejection(t *testing.T) {
	var attempts atomic.Int32
	_, cfg := startBackend(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/widget/sessions" {
				attempts.Add(1)
				http.Error(w, "unknown project", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	tmpDir := shortTempDir(t)
	logger := zap.NewNop()
	db, err := OpenStore(filepath.Join(tmpDir, "livechat.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	conv := NewConversation(cfg, db, bus.New(), logger)
	opener := NewOpener(conv, 10*time.Millisecond, logger)
	opener.Start()

	deadline := time.Now().Add(3 * time.Second)
	for attempts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := attempts.Load(); got != 1 {
		t.Errorf("session attempts = %d, want 1", got)
	}
	if conv.Session() != nil {
		t.Error("conversation should not be open")
	}
	if err := opener.Stop(); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
}

func TestOpenerStopWhileRetrying(t *testing.T) {
	_, cfg := startBackend(t, func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		})
	})
	tmpDir := shortTempDir(t)
	logger := zap.NewNop()
	db, err := OpenStore(filepath.Join(tmpDir, "livechat.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	conv := NewConversation(cfg, db, bus.New(), logger)
	opener := NewOpener(conv, time.Hour, logger)
	opener.Start()

	done := make(chan error, 1)
	go func() { done <- opener.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on the retry timer")
	}
	if conv.Session() != nil {
		t.Error("conversation should not be open")
	}
}

func TestModuleLifecycle(t *testing.T) {
	home := shortTempDir(t)
	t.Setenv(session.HomeEnv, home)
	_, cfg := startBackend(t, nil)
	socketPath := filepath.Join(home, "d.sock")

	app := fxtest.New(t, Module(Params{Profile: "test", Config: cfg, SocketPath: socketPath}))
	app.RequireStart()

	if pid := lock.Holder(session.Dir("test")); pid != os.Getpid() {
		t.Errorf("lock holder = %d, want %d", pid, os.Getpid())
	}
	if _, err := os.Stat(session.DBPath("test")); err != nil {
		t.Errorf("database not created: %v", err)
	}

	client := healthClient(t, socketPath)
	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	app.RequireStop()

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket should be removed on stop, stat err = %v", err)
	}
	if pid := lock.Holder(session.Dir("test")); pid != 0 {
		t.Errorf("lock holder after stop = %d, want 0", pid)
	}
}

func TestModuleRejectsInvalidConfig(t *testing.T) {
	home := shortTempDir(t)
	t.Setenv(session.HomeEnv, home)
	cfg := config.Default()

	app := fx.New(Module(Params{Profile: "test", Config: cfg, SocketPath: filepath.Join(home, "d.sock")}), fx.NopLogger)
	if err := app.Err(); err == nil {
		t.Fatal("expected missing project_id to fail construction")
	}
}
