package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fleetpulse/core/internal/api"
	"github.com/fleetpulse/core/internal/backend"
	"github.com/fleetpulse/core/internal/engine"
	"github.com/fleetpulse/core/internal/history"
	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/severity"
)

// startHub brings up the complete hub (storage, REST, websocket) behind
// httptest, with the live feed emitting fast enough for tests.
func startHub(t *testing.T) (*httptest.Server, *backend.Hub, *backend.DB) {
	t.Helper()

	db, err := backend.NewDB(t.TempDir() + "/hub.db")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hub := backend.NewHub(db, severity.DefaultThresholds(), 50*time.Millisecond)

	mux := http.NewServeMux()
	backend.NewAPI(db, backend.NewAuth(db)).RegisterRoutes(mux)
	hub.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return server, hub, db
}

func agentReport(hostname, ts string, cpuPercent float64) models.AgentReport {
	return models.AgentReport{
		Hostname:  hostname,
		Timestamp: ts,
		Platform:  "linux",
		Version:   "1.0.0",
		CPU:       models.CPUStats{PhysicalCores: 4, LogicalCores: 8, PercentUsage: cpuPercent},
		Memory:    models.MemoryStats{Total: 16 << 30, Used: 8 << 30, Percent: 50},
		Disks:     []models.DiskStats{{Mountpoint: "/", Percent: 40}},
		Network: map[string]models.InterfaceStats{
			"lo":   {Addresses: []models.AddressInfo{{IP: "127.0.0.1"}}, IO: &models.IOStats{UploadSpeed: 9999}},
			"eth0": {Addresses: []models.AddressInfo{{IP: "10.0.0.5"}}, IO: &models.IOStats{UploadSpeed: 100, DownloadSpeed: 200}},
		},
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEndToEndPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping e2e test in short mode")
	}

	server, hub, _ := startHub(t)
	ctx := context.Background()

	ts1 := models.FormatTimestamp(time.Now().UTC().Add(-time.Minute))
	ts2 := models.FormatTimestamp(time.Now().UTC().Add(-30 * time.Second))

	// Agent side: two reports land in storage, one over the cpu threshold.
	if err := hub.Ingest(agentReport("web-1", ts1, 91)); err != nil {
		t.Fatalf("First ingest failed: %v", err)
	}

	// Consumer side: register, login, subscribe.
	client := api.NewClient(server.URL + "/api")
	creds := api.Credentials{Username: "ops", Password: "secret"}
	if err := client.Register(ctx, creds); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	sess, err := client.Login(ctx, creds)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	servers, err := client.Servers(ctx)
	if err != nil {
		t.Fatalf("Servers failed: %v", err)
	}
	if len(servers) != 1 || servers[0].Name != "web-1" {
		t.Fatalf("Unexpected servers %+v", servers)
	}
	serverID := servers[0].ID
	if servers[0].IP != "10.0.0.5" {
		t.Errorf("Expected non-loopback agent ip, got %s", servers[0].IP)
	}

	if err := client.Subscribe(ctx, models.Subscription{ServerID: serverID}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Engine: history preload, then the live channel re-delivers the same
	// sample; the duplicate must not double-count.
	wsURL := strings.Replace(server.URL, "http", "ws", 1) + "/ws/live"
	eng := engine.New(client, wsURL, sess.UserID, 0)
	defer eng.Close()

	if err := eng.RefreshScope(ctx); err != nil {
		t.Fatalf("RefreshScope failed: %v", err)
	}

	inserted, err := eng.Watch(ctx, 0, "1day")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("Expected 1 history sample, got %d", inserted)
	}

	if err := eng.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Let a couple of live emits arrive. They carry the already-merged
	// sample, so the store size must not change.
	waitFor(t, func() bool { return !eng.Stream().LastReceived().IsZero() },
		"Live channel never delivered")
	time.Sleep(150 * time.Millisecond)
	if got := eng.Store().Len(serverID); got != 1 {
		t.Fatalf("Expected re-pushed duplicate ignored, got %d entries", got)
	}

	// A fresh agent report flows through storage and the live channel into
	// the engine without another history poll.
	if err := hub.Ingest(agentReport("web-1", ts2, 20)); err != nil {
		t.Fatalf("Second ingest failed: %v", err)
	}
	waitFor(t, func() bool { return eng.Store().Len(serverID) == 2 },
		"Live sample never reached the engine")

	now := time.Now().UTC()
	w := history.Window{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}
	feed := eng.LiveFeed(serverID, w)
	if len(feed) != 2 {
		t.Fatalf("Expected 2 feed entries, got %d", len(feed))
	}
	// Loopback traffic is excluded from the aggregate.
	if feed[0].Network.UploadSpeed != 100 {
		t.Errorf("Expected upload speed 100 (loopback excluded), got %f", feed[0].Network.UploadSpeed)
	}

	// Alert classification: the 91% report is high, the 20% one low.
	alerts, err := eng.AlertsView(ctx, serverID, w, "all")
	if err != nil {
		t.Fatalf("AlertsView failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 alert records, got %d", len(alerts))
	}
	bySeverity := map[severity.Severity]int{}
	for _, a := range alerts {
		bySeverity[a.Severity]++
	}
	if bySeverity[severity.High] != 1 || bySeverity[severity.Low] != 1 {
		t.Errorf("Unexpected severity spread %v", bySeverity)
	}

	// Badge: both alert rows count, reads are local.
	count := eng.Badge().Recompute(ctx)
	if count != 2 {
		t.Fatalf("Expected badge 2, got %d", count)
	}
	eng.Badge().MarkOneRead(alerts[0].ID)
	if got := eng.Badge().Count(); got != 1 {
		t.Errorf("Expected badge 1 after one read, got %d", got)
	}
	eng.Badge().MarkAllRead()
	if got := eng.Badge().Count(); got != 0 {
		t.Errorf("Expected badge 0 after mark all, got %d", got)
	}
}
