package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/scheduler"
	"github.com/fleetpulse/core/internal/timeline"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   []int64
	samples map[int64][]models.MetricSample
	fail    map[int64]error
	block   chan struct{}
}

func (f *fakeSource) PerformanceData(ctx context.Context, serverID int64, start, end time.Time) ([]models.MetricSample, error) {
	if f.block != nil && serverID == 1 {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, serverID)
	f.mu.Unlock()
	if err := f.fail[serverID]; err != nil {
		return nil, err
	}
	return f.samples[serverID], nil
}

func sampleAt(serverID int64, ts string) models.MetricSample {
	return models.MetricSample{
		ServerID:  serverID,
		Timestamp: ts,
		CPU:       json.RawMessage(`{"percent_usage": 10}`),
		Memory:    json.RawMessage(`{"percent": 20}`),
		Disk:      json.RawMessage(`[{"mountpoint": "/", "percent": 30}]`),
		Network:   json.RawMessage(`{}`),
	}
}

func TestPresetWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		preset string
		want   time.Duration
	}{
		{"1hour", time.Hour},
		{"6hours", 6 * time.Hour},
		{"12hours", 12 * time.Hour},
		{"1day", 24 * time.Hour},
		{"1week", 7 * 24 * time.Hour},
		{"7days", 7 * 24 * time.Hour},
		{"1month", 30 * 24 * time.Hour},
		{"30days", 30 * 24 * time.Hour},
		{"bogus", 24 * time.Hour},
	}

	for _, tt := range tests {
		w := PresetWindow(tt.preset, now)
		if w.End != now {
			t.Errorf("%s: expected end=now", tt.preset)
		}
		if got := w.End.Sub(w.Start); got != tt.want {
			t.Errorf("%s: expected span %v, got %v", tt.preset, tt.want, got)
		}
	}
}

func TestCustomWindowWholeDays(t *testing.T) {
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	end := time.Date(2024, 3, 2, 9, 15, 0, 0, time.UTC)

	w := CustomWindow(start, end)

	if models.FormatTimestamp(w.Start) != "2024-03-01 00:00:00" {
		t.Errorf("Expected start at midnight, got %s", models.FormatTimestamp(w.Start))
	}
	if models.FormatTimestamp(w.End) != "2024-03-02 23:59:59" {
		t.Errorf("Expected end at 23:59:59, got %s", models.FormatTimestamp(w.End))
	}
}

func TestRefreshInterval(t *testing.T) {
	if got := RefreshInterval("1hour"); got != 30*time.Second {
		t.Errorf("Expected 30s for 1hour, got %v", got)
	}
	if got := RefreshInterval("6hours"); got != 60*time.Second {
		t.Errorf("Expected 60s for 6hours, got %v", got)
	}
	for _, preset := range []string{"12hours", "1day", "1week", "1month", "custom"} {
		if got := RefreshInterval(preset); got != 0 {
			t.Errorf("Expected no auto-poll for %s, got %v", preset, got)
		}
	}
}

func TestLoadAllSubscribedPartialFailure(t *testing.T) {
	src := &fakeSource{
		samples: map[int64][]models.MetricSample{
			1: {sampleAt(1, "2024-03-01 12:00:00")},
			3: {sampleAt(3, "2024-03-01 12:00:00"), sampleAt(3, "2024-03-01 12:01:00")},
		},
		fail: map[int64]error{2: errors.New("connection refused")},
	}
	store := timeline.NewStore(0)
	sched := scheduler.New()
	defer sched.Stop()

	fetcher := NewFetcher(src, store, sched, func() []int64 { return []int64{1, 2, 3} })

	w := Window{Start: time.Unix(0, 0), End: time.Now()}
	inserted, err := fetcher.Load(context.Background(), 0, w)
	if err == nil {
		t.Error("Expected the failing server's error surfaced")
	}
	if inserted != 3 {
		t.Errorf("Expected 3 samples from the healthy servers, got %d", inserted)
	}
	if store.Len(1) != 1 || store.Len(3) != 2 {
		t.Errorf("Expected partial results kept: server1=%d server3=%d", store.Len(1), store.Len(3))
	}

	src.mu.Lock()
	calls := len(src.calls)
	src.mu.Unlock()
	if calls != 3 {
		t.Errorf("Expected all 3 servers fetched, got %d calls", calls)
	}
}

func TestLoadSingleServer(t *testing.T) {
	src := &fakeSource{
		samples: map[int64][]models.MetricSample{
			5: {sampleAt(5, "2024-03-01 12:00:00")},
		},
	}
	store := timeline.NewStore(0)
	sched := scheduler.New()
	defer sched.Stop()

	fetcher := NewFetcher(src, store, sched, func() []int64 {
		t.Error("Scope must not be consulted for an explicit server id")
		return nil
	})

	w := Window{Start: time.Unix(0, 0), End: time.Now()}
	inserted, err := fetcher.Load(context.Background(), 5, w)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if inserted != 1 {
		t.Errorf("Expected 1 insertion, got %d", inserted)
	}
}

func TestSupersededFetchDiscarded(t *testing.T) {
	src := &fakeSource{
		samples: map[int64][]models.MetricSample{
			1: {sampleAt(1, "2024-03-01 12:00:00")},
		},
		block: make(chan struct{}),
	}
	store := timeline.NewStore(0)
	sched := scheduler.New()
	defer sched.Stop()

	fetcher := NewFetcher(src, store, sched, func() []int64 { return []int64{1} })

	w := Window{Start: time.Unix(0, 0), End: time.Now()}
	done := make(chan error, 1)
	go func() {
		_, err := fetcher.Load(context.Background(), 1, w)
		done <- err
	}()

	// Supersede the in-flight fetch, then let it complete.
	fetcher.LoadRange(context.Background(), 2, time.Now(), time.Now())
	close(src.block)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Expected ErrSuperseded, got %v", err)
	}
	if store.Len(1) != 0 {
		t.Errorf("Expected superseded results discarded, got %d entries", store.Len(1))
	}
}
