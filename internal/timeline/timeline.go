package timeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/normalize"
)

// Order selects how a window query sorts its results. The store itself keeps
// no global ordering contract; live-feed consumers read newest-first, chart
// consumers read chronological.
type Order int

const (
	NewestFirst Order = iota
	Chronological
)

type key struct {
	serverID int64
	ts       int64
}

// Store is the shared in-memory timeline both the push ingestor and the
// history poller write into. Entries are keyed by (server_id, timestamp):
// merging a sample whose key is already present is a no-op, so the pushed and
// polled copies of the same instant never double-count. A mutex guards the
// store because the two writers run on independent goroutines.
type Store struct {
	mu        sync.RWMutex
	retention int
	seen      map[key]struct{}
	byServer  map[int64][]models.NormalizedSample
}

// NewStore creates a store retaining at most retention entries per server;
// zero means unbounded. When the cap is exceeded the oldest entries are
// dropped.
func NewStore(retention int) *Store {
	return &Store{
		retention: retention,
		seen:      make(map[key]struct{}),
		byServer:  make(map[int64][]models.NormalizedSample),
	}
}

// Merge normalizes a raw sample and inserts it unless its (server_id,
// timestamp) key is already present. It reports whether an insertion happened.
// A sample whose timestamp cannot be parsed is rejected: it has no identity
// key, so idempotency could not be guaranteed for it.
func (s *Store) Merge(sample models.MetricSample) (bool, error) {
	t, err := sample.Time()
	if err != nil {
		return false, fmt.Errorf("merge sample for server %d: %w", sample.ServerID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{serverID: sample.ServerID, ts: t.Unix()}
	if _, dup := s.seen[k]; dup {
		return false, nil
	}
	s.seen[k] = struct{}{}

	n := normalize.Sample(sample)
	entries := s.byServer[sample.ServerID]

	// Keep newest-first order on insert; push events land at the front in
	// the common case.
	i := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Time.After(n.Time)
	})
	entries = append(entries, models.NormalizedSample{})
	copy(entries[i+1:], entries[i:])
	entries[i] = n

	if s.retention > 0 && len(entries) > s.retention {
		for _, old := range entries[s.retention:] {
			delete(s.seen, key{serverID: sample.ServerID, ts: old.Time.Unix()})
		}
		entries = entries[:s.retention]
	}
	s.byServer[sample.ServerID] = entries
	return true, nil
}

// MergeAll merges a batch and returns how many samples were actually inserted.
// Samples with unparseable timestamps are skipped, not fatal to the batch.
func (s *Store) MergeAll(samples []models.MetricSample) int {
	inserted := 0
	for _, sample := range samples {
		ok, err := s.Merge(sample)
		if err != nil {
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted
}

// Window returns the server's entries with start <= timestamp <= end in the
// requested order.
func (s *Store) Window(serverID int64, start, end time.Time, order Order) []models.NormalizedSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.NormalizedSample
	for _, n := range s.byServer[serverID] {
		if n.Time.Before(start) || n.Time.After(end) {
			continue
		}
		out = append(out, n)
	}
	if order == Chronological {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Latest returns the most recent entry for a server, if any.
func (s *Store) Latest(serverID int64) (models.NormalizedSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byServer[serverID]
	if len(entries) == 0 {
		return models.NormalizedSample{}, false
	}
	return entries[0], true
}

// Len reports the number of stored entries for one server.
func (s *Store) Len(serverID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byServer[serverID])
}

// Servers lists the server ids that currently have entries, in ascending
// order.
func (s *Store) Servers() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.byServer))
	for id := range s.byServer {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Drop removes every entry for a server. Subscription removal excludes a
// server from future aggregation; callers that also want its history gone use
// this.
func (s *Store) Drop(serverID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.byServer[serverID] {
		delete(s.seen, key{serverID: serverID, ts: n.Time.Unix()})
	}
	delete(s.byServer, serverID)
}
