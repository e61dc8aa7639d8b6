package scheduler

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs named repeating jobs. Registering a job under a name that is
// already scheduled cancels the old job first, which is what keeps a changed
// refresh cadence from leaving a stale timer racing the new one.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]context.CancelFunc)}
}

// Every schedules fn to run at the given interval until the job is canceled.
// The first run happens after one full interval; callers wanting an immediate
// pass invoke fn themselves before scheduling.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		old()
	}
	s.jobs[name] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Cancel stops the named job if it is scheduled.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.jobs[name]; ok {
		cancel()
		delete(s.jobs, name)
	}
}

// Stop cancels every job and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for name, cancel := range s.jobs {
		cancel()
		delete(s.jobs, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
