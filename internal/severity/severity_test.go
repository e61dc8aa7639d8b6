package severity

import (
	"testing"
	"time"

	"github.com/fleetpulse/core/internal/models"
)

func record(valid bool) models.AlertRecord {
	return models.AlertRecord{
		ServerID:  1,
		Timestamp: "2024-03-01 12:00:00",
		CPU:       models.MetricAlert{Threshold: 80},
		Memory:    models.MetricAlert{Threshold: 80},
		Disk:      models.MetricAlert{Threshold: 80},
		Network: models.NetworkAlert{
			UploadThreshold:   1 << 30,
			DownloadThreshold: 1 << 30,
		},
		IsValid: models.Flag(valid),
	}
}

func TestClassifyPrecedence(t *testing.T) {
	rec := record(true)
	rec.CPU.Alert = true
	rec.CPU.CurrentValue = 91.5

	if got := Classify(rec); got != High {
		t.Errorf("Expected high for fired cpu alert, got %s", got)
	}

	// A second metric near its threshold must not demote the record.
	rec.Memory.CurrentValue = 70
	if got := Classify(rec); got != High {
		t.Errorf("Expected high to take precedence over medium, got %s", got)
	}
}

func TestClassifyInvalidFloor(t *testing.T) {
	rec := record(false)
	rec.CPU.Alert = true
	rec.CPU.CurrentValue = 99

	if got := Classify(rec); got != Low {
		t.Errorf("Expected invalid record floored to low, got %s", got)
	}
}

func TestClassifyNearThresholdBoundary(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		want    Severity
	}{
		{"exactly 80 percent of threshold", 64, Low},
		{"just above 80 percent", 64.01, Medium},
		{"well below", 40, Low},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record(true)
			rec.Memory.CurrentValue = tt.current
			if got := Classify(rec); got != tt.want {
				t.Errorf("current=%f: expected %s, got %s", tt.current, tt.want, got)
			}
		})
	}
}

func TestNearIgnoresFiredMetric(t *testing.T) {
	rec := record(true)
	rec.Disk.Alert = true
	rec.Disk.CurrentValue = 95

	if IsNearThreshold(rec) {
		t.Error("Fired metric must not also count as near-threshold")
	}
	if got := Classify(rec); got != High {
		t.Errorf("Expected high, got %s", got)
	}
}

func TestMatchesTierRederivesPredicates(t *testing.T) {
	high := record(true)
	high.Network.DownloadAlert = true
	high.Network.CurrentDownload = 2 << 30

	medium := record(true)
	medium.CPU.CurrentValue = 75

	// A fired metric with a near sibling belongs to both the high and the
	// medium tier; the tiers overlap rather than partition.
	both := record(true)
	both.CPU.Alert = true
	both.CPU.CurrentValue = 95
	both.Memory.CurrentValue = 75

	low := record(true)

	tests := []struct {
		name string
		rec  models.AlertRecord
		tier Severity
		want bool
	}{
		{"high matches high", high, High, true},
		{"high without near sibling not medium", high, Medium, false},
		{"medium matches medium", medium, Medium, true},
		{"medium not low", medium, Low, false},
		{"fired plus near sibling matches high", both, High, true},
		{"fired plus near sibling matches medium", both, Medium, true},
		{"fired plus near sibling not low", both, Low, false},
		{"low matches low", low, Low, true},
		{"all matches everything", low, "all", true},
		{"empty tier matches everything", high, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesTier(tt.rec, tt.tier); got != tt.want {
				t.Errorf("MatchesTier(%s) = %v, want %v", tt.tier, got, tt.want)
			}
		})
	}
}

func TestNearZeroThreshold(t *testing.T) {
	rec := record(true)
	rec.CPU.Threshold = 0
	rec.CPU.CurrentValue = 5

	if !IsNearThreshold(rec) {
		t.Error("Positive value over a zero threshold must count as near")
	}
	if got := Classify(rec); got != Medium {
		t.Errorf("Expected medium for value over zero threshold, got %s", got)
	}
}

func TestFilterDropsInvalid(t *testing.T) {
	valid := record(true)
	valid.CPU.Alert = true

	invalid := record(false)
	invalid.CPU.Alert = true

	got := Filter([]models.AlertRecord{valid, invalid}, "all")
	if len(got) != 1 {
		t.Fatalf("Expected 1 record after validity filter, got %d", len(got))
	}
	if !got[0].CPU.Alert {
		t.Error("Expected the valid record to survive")
	}

	if got := Filter([]models.AlertRecord{valid, invalid}, High); len(got) != 1 {
		t.Errorf("Expected 1 high record, got %d", len(got))
	}
}

func TestEvaluate(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := models.NormalizedSample{
		ServerID: 4,
		Time:     ts,
		CPU:      models.CPUStats{PercentUsage: 85},
		Memory:   models.MemoryStats{Percent: 70},
		Disk:     models.DiskStats{Mountpoint: "/", Percent: 50},
		Network:  models.NetworkTotals{UploadSpeed: 1024, DownloadSpeed: 2048},
	}

	rec := Evaluate(n, DefaultThresholds())

	if !rec.CPU.Alert {
		t.Error("Expected cpu alert at 85% against 80% threshold")
	}
	if rec.Memory.Alert || rec.Disk.Alert {
		t.Error("Expected memory and disk below threshold")
	}
	if rec.Network.UploadAlert || rec.Network.DownloadAlert {
		t.Error("Expected network below threshold")
	}
	if !bool(rec.IsValid) {
		t.Error("Expected valid record for fully decoded sample")
	}
	if rec.Timestamp != "2024-03-01 12:00:00" {
		t.Errorf("Unexpected timestamp %q", rec.Timestamp)
	}
	if got := Classify(rec); got != High {
		t.Errorf("Expected high classification, got %s", got)
	}
}

func TestEvaluateMalformedSample(t *testing.T) {
	n := models.NormalizedSample{
		ServerID:  4,
		Time:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		CPU:       models.CPUStats{PercentUsage: 99},
		Malformed: []string{"memory_info"},
	}

	rec := Evaluate(n, DefaultThresholds())

	if bool(rec.IsValid) {
		t.Error("Expected record from partially decoded sample marked invalid")
	}
	if got := Classify(rec); got != Low {
		t.Errorf("Expected low despite cpu over threshold, got %s", got)
	}
}
