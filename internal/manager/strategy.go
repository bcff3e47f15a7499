package manager

import (
	"context"
	"errors"

	"cronkeep/internal/crontab"
	"cronkeep/internal/job"
	"cronkeep/internal/native"
	"cronkeep/internal/scheduler"
	logx "cronkeep/pkg/logx"
)

// Change describes one lifecycle mutation. Job is nil when the job was
// deleted; All is the registry after the change.
type Change struct {
	JobID string
	Job   *job.Job
	All   []job.Job
}

func (c Change) active() bool { return c.Job != nil && c.Job.Enabled }

// Strategy is one scheduling backend kept in line with the registry.
type Strategy interface {
	Name() string
	Sync(ctx context.Context, c Change) error
	Reconcile(ctx context.Context, jobs []job.Job) error
}

// InProcess arms live triggers while the daemon runs.
type InProcess struct {
	Scheduler *scheduler.Service
}

func (s InProcess) Name() string { return "inproc" }

func (s InProcess) Sync(ctx context.Context, c Change) error {
	if !c.active() {
		s.Scheduler.Disarm(c.JobID)
		return nil
	}
	_, err := s.Scheduler.Arm(ctx, *c.Job)
	return err
}

func (s InProcess) Reconcile(ctx context.Context, jobs []job.Job) error {
	keep := map[string]struct{}{}
	var errs []error
	for _, j := range jobs {
		if !j.Enabled {
			continue
		}
		keep[j.ID] = struct{}{}
		if _, err := s.Scheduler.Arm(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range s.Scheduler.Armed() {
		if _, ok := keep[id]; !ok {
			s.Scheduler.Disarm(id)
		}
	}
	return errors.Join(errs...)
}

// Native projects jobs onto launchd or systemd.
type Native struct {
	Store *native.Store
	Log   logx.Logger
}

func (s Native) Name() string { return "native" }

func (s Native) Sync(ctx context.Context, c Change) error {
	if !c.active() {
		return s.Store.Remove(ctx, c.JobID)
	}
	return s.Store.Materialize(ctx, *c.Job)
}

// Reconcile purges orphans first so a reused label never points at a
// stale descriptor.
func (s Native) Reconcile(ctx context.Context, jobs []job.Job) error {
	purged, err := s.Store.PurgeOrphans(ctx, jobs)
	if err != nil {
		return err
	}
	n, err := s.Store.ReconcileAll(ctx, jobs)
	s.Log.Info("native descriptors reconciled",
		logx.String("backend", s.Store.BackendName()), logx.Int("jobs", n), logx.Int("purged", len(purged)))
	return err
}

// Crontab mirrors the registry into the user crontab when auto-sync is on.
type Crontab struct {
	Bridge   *crontab.Bridge
	AutoSync func() bool
}

func (s Crontab) Name() string { return "crontab" }

func (s Crontab) Sync(ctx context.Context, c Change) error {
	if !s.AutoSync() {
		return nil
	}
	_, err := s.Bridge.Sync(ctx, c.All)
	return err
}

func (s Crontab) Reconcile(ctx context.Context, jobs []job.Job) error {
	if !s.AutoSync() {
		return nil
	}
	_, err := s.Bridge.Sync(ctx, jobs)
	return err
}
