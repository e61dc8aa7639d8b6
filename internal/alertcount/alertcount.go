package alertcount

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/scheduler"
)

// Interval is the badge recomputation cadence.
const Interval = 60 * time.Second

// Source is the slice of the hub API the counter queries.
type Source interface {
	Alerts(ctx context.Context, serverID int64, start, end time.Time) ([]models.AlertRecord, error)
}

// Counter maintains the unread-alert badge for one user. It periodically sums
// the raw alert row counts across the subscribed servers over the full
// historical range. MarkAllRead and MarkOneRead are purely local adjustments:
// they never call back to the hub and the next recomputation overwrites them.
type Counter struct {
	src   Source
	sched *scheduler.Scheduler
	scope func() []int64

	mu    sync.Mutex
	count int
}

func New(src Source, sched *scheduler.Scheduler, scope func() []int64) *Counter {
	return &Counter{src: src, sched: sched, scope: scope}
}

// Start performs an immediate recomputation and schedules the periodic one.
func (c *Counter) Start(ctx context.Context) {
	c.Recompute(ctx)
	c.sched.Every("alertcount", Interval, func(ctx context.Context) {
		c.Recompute(ctx)
	})
}

// Stop cancels the periodic recomputation.
func (c *Counter) Stop() {
	c.sched.Cancel("alertcount")
}

// Recompute queries every subscribed server in parallel from epoch to now and
// replaces the count with the summed row counts. Validity is not consulted
// here; the badge counts raw alert rows. A failing server is logged and
// contributes zero, the others still count.
func (c *Counter) Recompute(ctx context.Context) int {
	ids := c.scope()
	now := time.Now().UTC()
	epoch := time.Unix(0, 0).UTC()

	counts := make([]int, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			alerts, err := c.src.Alerts(ctx, id, epoch, now)
			if err != nil {
				log.Printf("Alert count query for server %d failed: %v", id, err)
				return
			}
			counts[i] = len(alerts)
		}(i, id)
	}
	wg.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}

	c.mu.Lock()
	c.count = total
	c.mu.Unlock()
	return total
}

// Count returns the current badge value.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// MarkAllRead zeroes the badge locally.
func (c *Counter) MarkAllRead() {
	c.mu.Lock()
	c.count = 0
	c.mu.Unlock()
}

// MarkOneRead decrements the badge locally, floored at zero.
func (c *Counter) MarkOneRead(alertID int64) {
	c.mu.Lock()
	if c.count > 0 {
		c.count--
	}
	c.mu.Unlock()
}
