package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cronkeep/internal/storage"
	logx "cronkeep/pkg/logx"
)

// Registry owns the job list.
//
// Every mutation runs under one mutex and is persisted before it becomes
// visible: if the store rejects the write, the in-memory list is unchanged
// and the caller gets an error wrapping ErrPersistence.
type Registry struct {
	mu    sync.Mutex
	store storage.Store
	log   logx.Logger
	jobs  []Job
}

// storedJob detects records written before audio notifications existed.
type storedJob struct {
	Job
	Audio *AudioConfig `json:"audioNotification,omitempty"`
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log}
}

// Load reads the registry and migrates old records in place.
// It returns the number of migrated jobs.
func (r *Registry) Load(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var raw []storedJob
	if _, err := r.store.Get(ctx, storage.CollectionJobs, &raw); err != nil {
		return 0, fmt.Errorf("%w: load jobs: %v", ErrPersistence, err)
	}

	jobs := make([]Job, 0, len(raw))
	migrated := 0
	for _, rec := range raw {
		j := rec.Job
		changed := false
		if rec.Audio == nil {
			j.Audio = DefaultAudio()
			changed = true
		} else {
			j.Audio = *rec.Audio
		}
		if j.RunMode == "" {
			j.RunMode = RunBackground
			changed = true
		}
		if changed {
			migrated++
		}
		jobs = append(jobs, j)
	}

	if migrated > 0 {
		if err := r.store.Put(ctx, storage.CollectionJobs, jobs); err != nil {
			return 0, fmt.Errorf("%w: write migrated jobs: %v", ErrPersistence, err)
		}
		r.log.Info("jobs migrated", logx.Int("count", migrated))
	}
	r.jobs = jobs
	return migrated, nil
}

// List returns a snapshot of every job in insertion order.
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, len(r.jobs))
	for i, j := range r.jobs {
		out[i] = j.Clone()
	}
	return out
}

func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.jobs[i].Clone(), true
	}
	return Job{}, false
}

// Add normalizes and appends j.
func (r *Registry) Add(ctx context.Context, j Job) (Job, error) {
	if err := Normalize(&j); err != nil {
		return Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(j.ID) >= 0 {
		return Job{}, fmt.Errorf("%w: %s", ErrDuplicateID, j.ID)
	}
	next := append(r.snapshotLocked(), j.Clone())
	if err := r.commitLocked(ctx, next); err != nil {
		return Job{}, err
	}
	return j.Clone(), nil
}

// Update applies fn to a copy of the job, normalizes it and persists it.
func (r *Registry) Update(ctx context.Context, id string, fn func(j *Job) error) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	j := r.jobs[i].Clone()
	if err := fn(&j); err != nil {
		return Job{}, err
	}
	j.ID = id
	if err := Normalize(&j); err != nil {
		return Job{}, err
	}
	next := r.snapshotLocked()
	next[i] = j.Clone()
	if err := r.commitLocked(ctx, next); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Delete removes the job and returns what was removed.
func (r *Registry) Delete(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	removed := r.jobs[i].Clone()
	next := make([]Job, 0, len(r.jobs)-1)
	next = append(next, r.jobs[:i]...)
	next = append(next, r.jobs[i+1:]...)
	if err := r.commitLocked(ctx, next); err != nil {
		return Job{}, err
	}
	return removed, nil
}

// RecordRun writes scheduler-owned timestamps. A nil argument leaves the
// corresponding field unchanged.
func (r *Registry) RecordRun(ctx context.Context, id string, lastRun, nextRun *time.Time) error {
	_, err := r.Update(ctx, id, func(j *Job) error {
		if lastRun != nil {
			j.LastRun = cloneTime(lastRun)
		}
		if nextRun != nil {
			j.NextRun = cloneTime(nextRun)
		}
		return nil
	})
	return err
}

// ImportMany appends several jobs in one write.
func (r *Registry) ImportMany(ctx context.Context, jobs []Job) ([]Job, error) {
	added := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if err := Normalize(&j); err != nil {
			return nil, err
		}
		added = append(added, j)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.snapshotLocked()
	for _, j := range added {
		if r.indexLocked(j.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, j.ID)
		}
		next = append(next, j.Clone())
	}
	if err := r.commitLocked(ctx, next); err != nil {
		return nil, err
	}
	return added, nil
}

func (r *Registry) indexLocked(id string) int {
	for i := range r.jobs {
		if r.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) snapshotLocked() []Job {
	out := make([]Job, len(r.jobs), len(r.jobs)+1)
	copy(out, r.jobs)
	return out
}

func (r *Registry) commitLocked(ctx context.Context, next []Job) error {
	if err := r.store.Put(ctx, storage.CollectionJobs, next); err != nil {
		return fmt.Errorf("%w: save jobs: %v", ErrPersistence, err)
	}
	r.jobs = next
	return nil
}
