package history

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/scheduler"
	"github.com/fleetpulse/core/internal/timeline"
)

// ErrSuperseded marks a fetch whose window selection changed while it was in
// flight. Its results are discarded on arrival, never applied to the store.
var ErrSuperseded = errors.New("history: fetch superseded by newer window selection")

// Window is a closed time range in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

var presets = map[string]time.Duration{
	"1hour":   time.Hour,
	"6hours":  6 * time.Hour,
	"12hours": 12 * time.Hour,
	"1day":    24 * time.Hour,
	"1week":   7 * 24 * time.Hour,
	"7days":   7 * 24 * time.Hour,
	"1month":  30 * 24 * time.Hour,
	"30days":  30 * 24 * time.Hour,
}

// PresetWindow resolves a named preset to the window [now-duration, now].
// Unknown names fall back to 1day.
func PresetWindow(name string, now time.Time) Window {
	d, ok := presets[name]
	if !ok {
		d = 24 * time.Hour
	}
	return Window{Start: now.Add(-d), End: now}
}

// CustomWindow widens a date pair to whole days: start at 00:00:00, end at
// 23:59:59.
func CustomWindow(start, end time.Time) Window {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, time.UTC)
	return Window{Start: s, End: e}
}

// RefreshInterval returns the auto-poll cadence for a preset. Only the two
// narrowest presets poll; wider windows and custom ranges return zero and are
// fetched once per explicit request to bound load.
func RefreshInterval(preset string) time.Duration {
	switch preset {
	case "1hour":
		return 30 * time.Second
	case "6hours":
		return 60 * time.Second
	}
	return 0
}

// Source is the slice of the hub API the fetcher needs.
type Source interface {
	PerformanceData(ctx context.Context, serverID int64, start, end time.Time) ([]models.MetricSample, error)
}

// Fetcher polls historical windows into the shared timeline store. The scope
// callback resolves the currently subscribed server ids on every fetch, so
// subscription changes take effect without re-wiring.
type Fetcher struct {
	src   Source
	store *timeline.Store
	sched *scheduler.Scheduler
	scope func() []int64
	gen   uint64
}

func NewFetcher(src Source, store *timeline.Store, sched *scheduler.Scheduler, scope func() []int64) *Fetcher {
	return &Fetcher{src: src, store: store, sched: sched, scope: scope}
}

// Load fetches one window into the store. serverID 0 means all subscribed
// servers, fetched in parallel; one server failing does not abort the others,
// partial results are kept. It returns how many samples were newly inserted
// and the first fetch error observed, if any.
func (f *Fetcher) Load(ctx context.Context, serverID int64, w Window) (int, error) {
	gen := atomic.LoadUint64(&f.gen)

	ids := []int64{serverID}
	if serverID == 0 {
		ids = f.scope()
	}

	type result struct {
		samples []models.MetricSample
		err     error
	}

	results := make([]result, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			samples, err := f.src.PerformanceData(ctx, id, w.Start, w.End)
			results[i] = result{samples: samples, err: err}
		}(i, id)
	}
	wg.Wait()

	inserted := 0
	var firstErr error
	for i, r := range results {
		if r.err != nil {
			log.Printf("History fetch for server %d failed: %v", ids[i], r.err)
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if atomic.LoadUint64(&f.gen) != gen {
			return inserted, ErrSuperseded
		}
		inserted += f.store.MergeAll(r.samples)
	}
	return inserted, firstErr
}

// Watch switches the fetcher to a preset window: it bumps the generation so
// any in-flight fetch for the previous selection is discarded on arrival,
// performs an immediate load, and schedules re-polling at the preset's
// cadence. Presets without a cadence are loaded once. The single "history"
// job name makes each Watch cancel the previous preset's timer.
func (f *Fetcher) Watch(ctx context.Context, serverID int64, preset string) (int, error) {
	gen := atomic.AddUint64(&f.gen, 1)

	interval := RefreshInterval(preset)
	if interval == 0 {
		f.sched.Cancel("history")
		return f.Load(ctx, serverID, PresetWindow(preset, time.Now().UTC()))
	}

	f.sched.Every("history", interval, func(ctx context.Context) {
		if atomic.LoadUint64(&f.gen) != gen {
			return
		}
		if _, err := f.Load(ctx, serverID, PresetWindow(preset, time.Now().UTC())); err != nil && !errors.Is(err, ErrSuperseded) {
			log.Printf("Scheduled history refresh failed: %v", err)
		}
	})
	return f.Load(ctx, serverID, PresetWindow(preset, time.Now().UTC()))
}

// LoadRange performs a one-shot fetch of an explicit date range. Custom
// ranges never auto-poll, and selecting one supersedes any preset polling.
func (f *Fetcher) LoadRange(ctx context.Context, serverID int64, start, end time.Time) (int, error) {
	atomic.AddUint64(&f.gen, 1)
	f.sched.Cancel("history")
	return f.Load(ctx, serverID, CustomWindow(start, end))
}
