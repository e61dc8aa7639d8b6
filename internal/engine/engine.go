package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetpulse/core/internal/alertcount"
	"github.com/fleetpulse/core/internal/api"
	"github.com/fleetpulse/core/internal/history"
	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/scheduler"
	"github.com/fleetpulse/core/internal/severity"
	"github.com/fleetpulse/core/internal/stream"
	"github.com/fleetpulse/core/internal/timeline"
)

// Engine wires the timeline store, history fetcher, push ingestor and alert
// counter together for one authenticated user. It owns the subscription
// scope: changing it immediately changes which servers the ingestor admits
// and which servers the pollers fan out to. Entries already stored for a
// removed server are not evicted, only excluded from future aggregation.
type Engine struct {
	client   *api.Client
	userID   int64
	store    *timeline.Store
	sched    *scheduler.Scheduler
	fetcher  *history.Fetcher
	ingestor *stream.Ingestor
	counter  *alertcount.Counter

	mu    sync.RWMutex
	scope map[int64]bool
}

// New assembles an engine. streamURL is the hub's live websocket endpoint;
// retention caps per-server timeline entries (0 = unbounded).
func New(client *api.Client, streamURL string, userID int64, retention int) *Engine {
	e := &Engine{
		client: client,
		userID: userID,
		store:  timeline.NewStore(retention),
		sched:  scheduler.New(),
		scope:  make(map[int64]bool),
	}
	e.fetcher = history.NewFetcher(client, e.store, e.sched, e.Scope)
	e.ingestor = stream.NewIngestor(streamURL, userID, e.store, e.InScope)
	e.counter = alertcount.New(client, e.sched, e.Scope)
	return e
}

// RefreshScope replaces the subscription scope from the hub.
func (e *Engine) RefreshScope(ctx context.Context) error {
	subs, err := e.client.Subscriptions(ctx, e.userID)
	if err != nil {
		return fmt.Errorf("refresh scope: %w", err)
	}

	scope := make(map[int64]bool, len(subs))
	for _, sub := range subs {
		scope[sub.ServerID] = true
	}

	e.mu.Lock()
	e.scope = scope
	e.mu.Unlock()
	return nil
}

// AddServer admits a server into the scope immediately.
func (e *Engine) AddServer(serverID int64) {
	e.mu.Lock()
	e.scope[serverID] = true
	e.mu.Unlock()
}

// RemoveServer excludes a server from future aggregation. Stored entries are
// kept; they simply stop being part of any scoped view.
func (e *Engine) RemoveServer(serverID int64) {
	e.mu.Lock()
	delete(e.scope, serverID)
	e.mu.Unlock()
}

// InScope reports whether a server belongs to the current subscription set.
func (e *Engine) InScope(serverID int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scope[serverID]
}

// Scope returns the subscribed server ids in ascending order.
func (e *Engine) Scope() []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]int64, 0, len(e.scope))
	for id := range e.scope {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Connect brings up the push channel.
func (e *Engine) Connect(ctx context.Context) error {
	return e.ingestor.Connect(ctx)
}

// Reconnect is the explicit recovery affordance for a dropped push channel.
func (e *Engine) Reconnect(ctx context.Context) error {
	return e.ingestor.Reconnect(ctx)
}

// Stream exposes the push channel's observable state.
func (e *Engine) Stream() *stream.Ingestor { return e.ingestor }

// Badge exposes the unread-alert counter.
func (e *Engine) Badge() *alertcount.Counter { return e.counter }

// Store exposes the shared timeline for direct window queries.
func (e *Engine) Store() *timeline.Store { return e.store }

// StartBadge begins the periodic unread-count recomputation.
func (e *Engine) StartBadge(ctx context.Context) {
	e.counter.Start(ctx)
}

// Watch selects a preset window: immediate load plus re-polling at the
// preset's cadence. serverID 0 fans out to every subscribed server.
func (e *Engine) Watch(ctx context.Context, serverID int64, preset string) (int, error) {
	return e.fetcher.Watch(ctx, serverID, preset)
}

// LoadRange performs a one-shot fetch of an explicit date range.
func (e *Engine) LoadRange(ctx context.Context, serverID int64, start, end time.Time) (int, error) {
	return e.fetcher.LoadRange(ctx, serverID, start, end)
}

// LiveFeed returns a server's window newest-first, for live display.
func (e *Engine) LiveFeed(serverID int64, w history.Window) []models.NormalizedSample {
	if !e.InScope(serverID) {
		return nil
	}
	return e.store.Window(serverID, w.Start, w.End, timeline.NewestFirst)
}

// ChartSeries returns a server's window in chronological order, for charts.
func (e *Engine) ChartSeries(serverID int64, w history.Window) []models.NormalizedSample {
	if !e.InScope(serverID) {
		return nil
	}
	return e.store.Window(serverID, w.Start, w.End, timeline.Chronological)
}

// ClassifiedAlert is an alert record with its derived severity rendered.
type ClassifiedAlert struct {
	models.AlertRecord
	Severity severity.Severity `json:"severity"`
}

// AlertsView fetches a server's alert records for a window, drops invalid
// rows, filters to the requested tier and renders each survivor's severity.
func (e *Engine) AlertsView(ctx context.Context, serverID int64, w history.Window, tier severity.Severity) ([]ClassifiedAlert, error) {
	recs, err := e.client.Alerts(ctx, serverID, w.Start, w.End)
	if err != nil {
		return nil, err
	}

	filtered := severity.Filter(recs, tier)
	out := make([]ClassifiedAlert, len(filtered))
	for i, rec := range filtered {
		out[i] = ClassifiedAlert{AlertRecord: rec, Severity: severity.Classify(rec)}
	}
	return out, nil
}

// Close stops every scheduled job and tears down the push channel.
func (e *Engine) Close() {
	e.ingestor.Disconnect()
	e.sched.Stop()
}
