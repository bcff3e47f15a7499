package execlog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cronkeep/internal/job"
	"cronkeep/internal/storage"
)

// DefaultRetention is the number of runs kept per job.
const DefaultRetention = 100

// Store keeps execution logs in the jobLogs collection.
//
// The collection is loaded lazily and rewritten wholesale on every change;
// a single mutex serializes read-modify-write.
type Store struct {
	mu        sync.Mutex
	store     storage.Store
	retention int

	loaded bool
	logs   []job.ExecutionLog
}

func New(store storage.Store, retention int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{store: store, retention: retention}
}

// Append inserts l or replaces the entry with the same id, then trims the
// owning job's history to the retention window. Other jobs are untouched.
func (s *Store) Append(ctx context.Context, l job.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return err
	}

	next := make([]job.ExecutionLog, 0, len(s.logs)+1)
	replaced := false
	for _, cur := range s.logs {
		if cur.ID == l.ID {
			next = append(next, l)
			replaced = true
			continue
		}
		next = append(next, cur)
	}
	if !replaced {
		next = append(next, l)
	}
	next = trim(next, l.JobID, s.retention)

	if err := s.store.Put(ctx, storage.CollectionLogs, next); err != nil {
		return fmt.Errorf("%w: save logs: %v", job.ErrPersistence, err)
	}
	s.logs = next
	return nil
}

// Query returns logs newest first, optionally for one job.
func (s *Store) Query(ctx context.Context, jobID string) ([]job.ExecutionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]job.ExecutionLog, 0, len(s.logs))
	for _, l := range s.logs {
		if jobID == "" || l.JobID == jobID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

// Prune drops every log of one job and returns how many were removed.
func (s *Store) Prune(ctx context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return 0, err
	}
	next := make([]job.ExecutionLog, 0, len(s.logs))
	for _, l := range s.logs {
		if l.JobID != jobID {
			next = append(next, l)
		}
	}
	removed := len(s.logs) - len(next)
	if removed == 0 {
		return 0, nil
	}
	if err := s.store.Put(ctx, storage.CollectionLogs, next); err != nil {
		return 0, fmt.Errorf("%w: save logs: %v", job.ErrPersistence, err)
	}
	s.logs = next
	return removed, nil
}

func (s *Store) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	var logs []job.ExecutionLog
	if _, err := s.store.Get(ctx, storage.CollectionLogs, &logs); err != nil {
		return fmt.Errorf("%w: load logs: %v", job.ErrPersistence, err)
	}
	s.logs = logs
	s.loaded = true
	return nil
}

// trim keeps the newest max entries of jobID, preserving the relative order
// of everything that survives.
func trim(logs []job.ExecutionLog, jobID string, max int) []job.ExecutionLog {
	idx := make([]int, 0, len(logs))
	for i, l := range logs {
		if l.JobID == jobID {
			idx = append(idx, i)
		}
	}
	if len(idx) <= max {
		return logs
	}
	sort.SliceStable(idx, func(a, b int) bool { return logs[idx[a]].StartTime.After(logs[idx[b]].StartTime) })
	drop := make(map[int]struct{}, len(idx)-max)
	for _, i := range idx[max:] {
		drop[i] = struct{}{}
	}
	out := make([]job.ExecutionLog, 0, len(logs)-len(drop))
	for i, l := range logs {
		if _, ok := drop[i]; !ok {
			out = append(out, l)
		}
	}
	return out
}
