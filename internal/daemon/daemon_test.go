package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/skdvlpr/gomercatocrm/internal/bus"
	"github.com/skdvlpr/gomercatocrm/internal/config"
	"github.com/skdvlpr/gomercatocrm/internal/lock"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/session"
	"github.com/skdvlpr/gomercatocrm/internal/status"
	"github.com/skdvlpr/gomercatocrm/internal/store"
)

// shortDir keeps socket paths under the 104-char Unix socket limit on macOS.
func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "crm-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func healthClient(t *testing.T, socketPath string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func waitServing(t *testing.T, c healthpb.HealthClient, service string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last healthpb.HealthCheckResponse_ServingStatus
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		cancel()
		if err == nil {
			last = resp.Status
			if last == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("service %q status = %v, want %v", service, last, want)
}

func TestHealthServerFollowsSessionState(t *testing.T) {
	socketPath := filepath.Join(shortDir(t), "h.sock")

	srv, err := NewHealthServer(socketPath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	b := bus.New()
	machine := status.NewMachine(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Watch(ctx, b, machine.Current)

	c := healthClient(t, socketPath)
	waitServing(t, c, "", healthpb.HealthCheckResponse_SERVING)
	waitServing(t, c, HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	// Give Watch time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	machine.Observe("CONNECTED", "")
	waitServing(t, c, HealthService, healthpb.HealthCheckResponse_SERVING)

	machine.Observe("UNPAIRED", "")
	waitServing(t, c, HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestHealthServerReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(shortDir(t), "h.sock")
	if err := os.WriteFile(socketPath, []byte("stale"), 0600); err != nil {
		t.Fatal(err)
	}
	srv, err := NewHealthServer(socketPath, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHealthServer() over stale file: %v", err)
	}
	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket left behind after Stop: %v", err)
	}
}

func testParams(t *testing.T, bridgeURL string) Params {
	t.Helper()
	cfg := config.Default()
	cfg.Bridge.URL = bridgeURL
	cfg.Bridge.Retries = 1
	cfg.HTTP.Listen = "127.0.0.1:0"
	cfg.Sync.StatusInterval = config.Duration{Duration: 50 * time.Millisecond}
	return Params{
		Config: cfg,
		Layout: session.NewLayout(shortDir(t)),
		Logger: zap.NewNop(),
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	if err := fx.ValidateApp(Module(testParams(t, "http://127.0.0.1:1"))); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestDaemonServesAPIAndHealth(t *testing.T) {
	bridgeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/session/status/") {
			_, _ = io.WriteString(w, `{"success":true,"state":"CONNECTED"}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer bridgeSrv.Close()

	p := testParams(t, bridgeSrv.URL)
	var (
		ln      net.Listener
		machine *status.Machine
	)
	app := fxtest.New(t,
		fx.NopLogger,
		Module(p),
		fx.Populate(&ln, &machine),
	)
	app.RequireStart()

	deadline := time.Now().Add(2 * time.Second)
	for machine.Current() != status.Ready && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := machine.Current(); got != status.Ready {
		t.Fatalf("state = %s, want READY", got)
	}

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/whatsapp/status")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status = %d", resp.StatusCode)
	}
	var body struct {
		Results struct {
			State string `json:"state"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Results.State != string(status.Ready) {
		t.Errorf("results.state = %q, want READY", body.Results.State)
	}

	waitServing(t, healthClient(t, p.Layout.SocketPath()), HealthService, healthpb.HealthCheckResponse_SERVING)

	app.RequireStop()

	if _, err := os.Stat(p.Layout.LockPath()); !os.IsNotExist(err) {
		t.Errorf("lock file left behind after stop: %v", err)
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	p := testParams(t, "http://127.0.0.1:1")
	if err := p.Layout.Ensure(); err != nil {
		t.Fatal(err)
	}
	held, err := lock.Acquire(p.Layout.LockPath(), lock.Info{Listen: "127.0.0.1:9999"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = held.Release() }()

	app := fx.New(fx.NopLogger, Module(p))
	err = app.Err()
	if err == nil {
		t.Fatal("expected startup to fail while the data directory is locked")
	}
	if !strings.Contains(err.Error(), "locked by PID") {
		t.Errorf("err = %v, want lock held error", err)
	}
}

func TestCollectStats(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "s.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := db.Upsert(ctx, &store.Message{ChatID: "391234@c.us", ExternalID: "X", Body: "hi", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	bc := realtime.NewBroadcaster(b, zap.NewNop())
	_, release := bc.Subscribe(1)
	defer release()
	for i := 0; i < 10; i++ {
		bc.Publish("391234@c.us", realtime.ActionTyping, realtime.TypingPayload{IsTyping: true})
	}
	deadline := time.Now().Add(time.Second)
	for bc.Evicted() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	st, err := collectStats(ctx, db, bc, b)
	if err != nil {
		t.Fatal(err)
	}
	if st.Messages != 1 {
		t.Errorf("Messages = %d, want 1", st.Messages)
	}
	if st.Viewers != 0 || st.Evicted != 1 {
		t.Errorf("viewers = %d, evicted = %d, want 0 and 1", st.Viewers, st.Evicted)
	}
}
