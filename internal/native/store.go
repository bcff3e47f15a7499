package native

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cronkeep/internal/command"
	"cronkeep/internal/job"
	"cronkeep/internal/schedule"
	logx "cronkeep/pkg/logx"
)

const (
	UnregisterTimeout = 3 * time.Second
	RegisterTimeout   = 5 * time.Second
)

type Options struct {
	Backend Backend // nil disables native projection
	Builder *command.Builder
	LogDir  string
	Home    string
	Env     map[string]string
	Log     logx.Logger
	// OnRegistrationError observes every OS registration failure.
	OnRegistrationError func(*job.RegistrationError)
}

// Store projects jobs onto the host scheduler as on-disk descriptors.
type Store struct {
	backend Backend
	builder *command.Builder
	logDir  string
	home    string
	env     map[string]string
	log     logx.Logger
	onRegEr func(*job.RegistrationError)
}

func NewStore(opt Options) *Store {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		backend: opt.Backend,
		builder: opt.Builder,
		logDir:  opt.LogDir,
		home:    opt.Home,
		env:     opt.Env,
		log:     log,
		onRegEr: opt.OnRegistrationError,
	}
}

// Enabled reports whether a backend is configured.
func (s *Store) Enabled() bool { return s.backend != nil }

func (s *Store) BackendName() string {
	if s.backend == nil {
		return BackendNone
	}
	return s.backend.Name()
}

// Descriptors builds the descriptor set of j without touching the disk.
func (s *Store) Descriptors(j job.Job) ([]Descriptor, error) {
	expr, err := j.Expression()
	if err != nil {
		return nil, err
	}
	argv, err := s.builder.Argv(j)
	if err != nil {
		return nil, err
	}
	prefix := ""
	if s.backend != nil {
		prefix = s.backend.Prefix()
	}
	ivs := schedule.Compile(expr)
	out := make([]Descriptor, 0, len(ivs))
	for _, iv := range ivs {
		stdout, stderr := logPaths(s.logDir, j.ID, iv.Index)
		out = append(out, Descriptor{
			Label:            Label(prefix, j.ID, iv.Index),
			JobID:            j.ID,
			Index:            iv.Index,
			Argv:             argv,
			Interval:         iv,
			StdoutPath:       stdout,
			StderrPath:       stderr,
			WorkingDirectory: s.home,
			Environment:      s.env,
		})
	}
	return out, nil
}

// Materialize writes and registers every descriptor of j. Labels of j that
// are no longer part of its descriptor set are removed first.
//
// Registration failures do not stop the remaining descriptors; they are
// returned joined as *job.RegistrationError values.
func (s *Store) Materialize(ctx context.Context, j job.Job) error {
	if s.backend == nil {
		return nil
	}
	descs, err := s.Descriptors(j)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.backend.Dir(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.backend.Dir(), err)
	}
	if s.logDir != "" {
		if err := os.MkdirAll(s.logDir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", s.logDir, err)
		}
	}

	want := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		want[d.Label] = struct{}{}
	}
	existing, err := s.Labels(j.ID)
	if err != nil {
		return err
	}
	for _, label := range existing {
		if _, ok := want[label]; ok {
			continue
		}
		if err := s.drop(ctx, label); err != nil {
			return err
		}
	}

	var regErrs []error
	for _, d := range descs {
		files, err := s.backend.Render(d)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := writeFile(filepath.Join(s.backend.Dir(), f.Name), f.Data, f.Mode); err != nil {
				return err
			}
		}
		s.unregister(ctx, d.Label)
		if err := s.register(ctx, d.Label); err != nil {
			regErrs = append(regErrs, err)
		}
	}
	s.log.Debug("native descriptors written",
		logx.String("job", j.ID), logx.Int("count", len(descs)), logx.String("backend", s.backend.Name()))
	return errors.Join(regErrs...)
}

// Remove unregisters and deletes every descriptor belonging to jobID.
func (s *Store) Remove(ctx context.Context, jobID string) error {
	if s.backend == nil {
		return nil
	}
	labels, err := s.Labels(jobID)
	if err != nil {
		return err
	}
	for _, label := range labels {
		if err := s.drop(ctx, label); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileAll materializes every enabled job and returns how many were
// written. Per-job failures are logged and joined.
func (s *Store) ReconcileAll(ctx context.Context, jobs []job.Job) (int, error) {
	if s.backend == nil {
		return 0, nil
	}
	var errs []error
	n := 0
	for _, j := range jobs {
		if !j.Enabled {
			continue
		}
		if err := s.Materialize(ctx, j); err != nil {
			s.log.Warn("reconcile job failed", logx.String("job", j.ID), logx.Err(err))
			errs = append(errs, err)
			var re *job.RegistrationError
			if !errors.As(err, &re) {
				continue
			}
		}
		n++
	}
	return n, errors.Join(errs...)
}

// PurgeOrphans removes descriptors of jobs that are missing from jobs or
// disabled, returning the purged job ids.
func (s *Store) PurgeOrphans(ctx context.Context, jobs []job.Job) ([]string, error) {
	if s.backend == nil {
		return nil, nil
	}
	keep := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if j.Enabled {
			keep[j.ID] = struct{}{}
		}
	}
	byJob, err := s.scan()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(byJob))
	for id := range byJob {
		if _, ok := keep[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, label := range byJob[id] {
			if err := s.drop(ctx, label); err != nil {
				return nil, err
			}
		}
		s.log.Info("purged orphan descriptors", logx.String("job", id))
	}
	return ids, nil
}

// Labels returns the on-disk labels of jobID, sorted.
func (s *Store) Labels(jobID string) ([]string, error) {
	if s.backend == nil {
		return nil, nil
	}
	byJob, err := s.scan()
	if err != nil {
		return nil, err
	}
	return byJob[jobID], nil
}

// scan groups managed labels in the backend directory by job id.
func (s *Store) scan() (map[string][]string, error) {
	entries, err := os.ReadDir(s.backend.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.backend.Dir(), err)
	}
	out := map[string][]string{}
	ext := s.backend.Ext()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		label, ok := strings.CutSuffix(e.Name(), ext)
		if !ok {
			continue
		}
		id, ok := JobIDOf(s.backend.Prefix(), label)
		if !ok {
			continue
		}
		out[id] = append(out[id], label)
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out, nil
}

func (s *Store) drop(ctx context.Context, label string) error {
	s.unregister(ctx, label)
	for _, name := range s.backend.Files(label) {
		p := filepath.Join(s.backend.Dir(), name)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) unregister(ctx context.Context, label string) {
	cctx, cancel := context.WithTimeout(ctx, UnregisterTimeout)
	defer cancel()
	if err := s.backend.Unregister(cctx, label); err != nil {
		s.log.Trace("unregister ignored", logx.String("label", label), logx.Err(err))
	}
}

func (s *Store) register(ctx context.Context, label string) error {
	cctx, cancel := context.WithTimeout(ctx, RegisterTimeout)
	defer cancel()
	err := s.backend.Register(cctx, label)
	if err == nil {
		return nil
	}
	re := &job.RegistrationError{Label: label, Op: "register", Err: err}
	s.log.Warn("native registration failed", logx.String("label", label), logx.Err(err))
	if s.onRegEr != nil {
		s.onRegEr(re)
	}
	return re
}

func writeFile(path string, data []byte, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
