package backend

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/severity"
)

func testHub(t *testing.T) (*Hub, *DB) {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewHub(db, severity.DefaultThresholds(), time.Second), db
}

func report(hostname string, cpuPercent float64) models.AgentReport {
	return models.AgentReport{
		Hostname: hostname,
		Platform: "linux",
		Version:  "1.0.0",
		BootTime: "2024-03-01 08:00:00",
		CPU:      models.CPUStats{PhysicalCores: 4, LogicalCores: 8, PercentUsage: cpuPercent},
		Memory:   models.MemoryStats{Total: 16 << 30, Used: 8 << 30, Percent: 50},
		Disks:    []models.DiskStats{{Mountpoint: "/", Total: 100 << 30, Used: 40 << 30, Percent: 40}},
		Network: map[string]models.InterfaceStats{
			"lo":   {Addresses: []models.AddressInfo{{IP: "127.0.0.1"}}},
			"eth0": {Addresses: []models.AddressInfo{{IP: "10.0.0.5"}}, IO: &models.IOStats{UploadSpeed: 100, DownloadSpeed: 200}},
		},
	}
}

func TestIngestStoresSampleAndAlert(t *testing.T) {
	hub, db := testHub(t)

	if err := hub.Ingest(report("web-1", 91)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	servers, err := db.ListServers()
	if err != nil {
		t.Fatalf("ListServers failed: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("Expected 1 server, got %d", len(servers))
	}
	if servers[0].IP != "10.0.0.5" {
		t.Errorf("Expected ip from first non-loopback interface, got %s", servers[0].IP)
	}

	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC().Add(time.Minute)

	samples, err := db.GetSamples(servers[0].ID, start, end)
	if err != nil {
		t.Fatalf("GetSamples failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("Expected 1 stored sample, got %d", len(samples))
	}

	alerts, err := db.GetAlerts(servers[0].ID, start, end)
	if err != nil {
		t.Fatalf("GetAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert record, got %d", len(alerts))
	}

	rec := alerts[0]
	if !rec.CPU.Alert {
		t.Error("Expected cpu alert at 91% against the 80% threshold")
	}
	if rec.Memory.Alert || rec.Disk.Alert {
		t.Error("Expected memory and disk below threshold")
	}
	if !bool(rec.IsValid) {
		t.Error("Expected record from a complete report marked valid")
	}
	if got := severity.Classify(rec); got != severity.High {
		t.Errorf("Expected high classification, got %s", got)
	}
}

func TestIngestRejectsAnonymousReport(t *testing.T) {
	hub, _ := testHub(t)
	if err := hub.Ingest(models.AgentReport{}); err == nil {
		t.Fatal("Expected error for report without hostname")
	}
}

func TestReportIPSkipsLoopback(t *testing.T) {
	ifaces := map[string]models.InterfaceStats{
		"lo":   {Addresses: []models.AddressInfo{{IP: "127.0.0.1"}}},
		"eth0": {Addresses: []models.AddressInfo{{IP: "192.168.1.7"}}},
	}
	if got := reportIP(ifaces); got != "192.168.1.7" {
		t.Errorf("Expected non-loopback address, got %q", got)
	}
	if got := reportIP(nil); got != "" {
		t.Errorf("Expected empty address for no interfaces, got %q", got)
	}
}
