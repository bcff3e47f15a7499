package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cronkeep/internal/command"
	"cronkeep/internal/crontab"
	"cronkeep/internal/eventbus"
	"cronkeep/internal/execlog"
	"cronkeep/internal/job"
	"cronkeep/internal/metrics"
	"cronkeep/internal/native"
	"cronkeep/internal/runner"
	"cronkeep/internal/scheduler"
	"cronkeep/internal/storage"
	logx "cronkeep/pkg/logx"
)

const (
	DefaultTestTimeout = 30 * time.Second
	terminalTimeout    = 30 * time.Second
)

// OperationResult is the outcome of one lifecycle operation.
type OperationResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Job     *job.Job `json:"job,omitempty"`
	Count   int      `json:"count,omitempty"`
	Error   error    `json:"-"`
}

// TestRunResult is the outcome of an ad hoc run.
type TestRunResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exitCode"`
	Duration int64  `json:"duration"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

type Config struct {
	TestTimeout time.Duration
	Home        string
}

type Options struct {
	Config    Config
	Registry  *job.Registry
	Logs      *execlog.Store
	Store     storage.Store // user preferences
	Scheduler *scheduler.Service
	Native    *native.Store
	Crontab   *crontab.Bridge
	Builder   *command.Builder
	Notifier  scheduler.Notifier
	Bus       eventbus.Bus
	Metrics   *metrics.Metrics
	Log       logx.Logger

	// Run replaces runner.Run in tests.
	Run func(ctx context.Context, argv []string, opt runner.Options) runner.Result
	// Spawn starts fire-and-forget work; defaults to a goroutine.
	Spawn func(fn func())
}

// Manager coordinates the registry with every scheduling backend.
//
// Mutations persist first. Backend failures after a successful write are
// logged and reported as warnings, never rolled back.
type Manager struct {
	reg      *job.Registry
	logs     *execlog.Store
	prefs    storage.Store
	sched    *scheduler.Service
	native   *native.Store
	bridge   *crontab.Bridge
	builder  *command.Builder
	notifier scheduler.Notifier
	bus      eventbus.Bus
	metrics  *metrics.Metrics
	log      logx.Logger
	run      func(ctx context.Context, argv []string, opt runner.Options) runner.Result
	spawn    func(fn func())

	strategies []Strategy
	autoSync   atomic.Bool

	// opMu is held across a mutation and every backend sync it triggers,
	// so backends apply changes in commit order.
	opMu sync.Mutex

	mu  sync.RWMutex
	cfg Config
}

func New(opt Options) *Manager {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		reg:      opt.Registry,
		logs:     opt.Logs,
		prefs:    opt.Store,
		sched:    opt.Scheduler,
		native:   opt.Native,
		bridge:   opt.Crontab,
		builder:  opt.Builder,
		notifier: opt.Notifier,
		bus:      opt.Bus,
		metrics:  opt.Metrics,
		log:      log,
		run:      opt.Run,
		spawn:    opt.Spawn,
		cfg:      opt.Config,
	}
	if m.run == nil {
		m.run = runner.Run
	}
	if m.spawn == nil {
		m.spawn = func(fn func()) { go fn() }
	}
	if m.bus == nil {
		m.bus = eventbus.New()
	}
	if m.sched != nil {
		m.strategies = append(m.strategies, InProcess{Scheduler: m.sched})
	}
	if m.native != nil && m.native.Enabled() {
		m.strategies = append(m.strategies, Native{Store: m.native, Log: log})
	}
	if m.bridge != nil {
		m.strategies = append(m.strategies, Crontab{Bridge: m.bridge, AutoSync: m.autoSync.Load})
	}
	return m
}

func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Manager) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Strategies names the active backends in sync order.
func (m *Manager) Strategies() []string {
	out := make([]string, 0, len(m.strategies))
	for _, s := range m.strategies {
		out = append(out, s.Name())
	}
	return out
}

// Start loads the registry and brings every backend in line with it.
func (m *Manager) Start(ctx context.Context) error {
	migrated, err := m.reg.Load(ctx)
	if err != nil {
		return err
	}
	if m.prefs != nil {
		var on bool
		if _, err := m.prefs.Get(ctx, storage.KeyAutoSync, &on); err != nil {
			m.log.Warn("auto-sync preference unreadable", logx.Err(err))
		}
		m.autoSync.Store(on)
	}
	m.opMu.Lock()
	warnings := m.reconcile(ctx)
	m.opMu.Unlock()
	if m.sched != nil {
		m.sched.Start(ctx)
	}
	m.log.Info("manager started",
		logx.Int("jobs", len(m.reg.List())),
		logx.Int("migrated", migrated),
		logx.Strings("strategies", m.Strategies()),
		logx.Bool("auto_sync", m.autoSync.Load()),
		logx.Int("warnings", len(warnings)))
	return nil
}

// Stop waits for in-flight scheduled runs. Native descriptors stay
// registered.
func (m *Manager) Stop(ctx context.Context) error {
	if m.sched == nil {
		return nil
	}
	return m.sched.Stop(ctx)
}

func (m *Manager) List() []job.Job { return m.reg.List() }

func (m *Manager) Get(id string) (job.Job, bool) { return m.reg.Get(id) }

func (m *Manager) Sounds() []string {
	out := make([]string, len(job.SystemSounds))
	copy(out, job.SystemSounds)
	return out
}

func (m *Manager) Add(ctx context.Context, j job.Job) OperationResult {
	if strings.TrimSpace(j.ID) == "" {
		j.ID = job.NewID()
	}
	if err := command.Validate(j.Command); err != nil {
		return failure("add job", err)
	}
	j.LastRun, j.NextRun = nil, nil

	m.opMu.Lock()
	defer m.opMu.Unlock()
	added, err := m.reg.Add(ctx, j)
	if err != nil {
		return failure("add job", err)
	}
	m.publish(eventbus.JobAdded, added)
	warnings := m.sync(ctx, added.ID, &added)
	return m.success("job added", added.ID, warnings)
}

func (m *Manager) Update(ctx context.Context, id string, p job.Patch) OperationResult {
	if p.Command != nil {
		if err := command.Validate(*p.Command); err != nil {
			return failure("update job", err)
		}
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	updated, err := m.reg.Update(ctx, id, func(j *job.Job) error {
		p.Apply(j)
		if !j.Enabled {
			j.NextRun = nil
		}
		return nil
	})
	if err != nil {
		return failure("update job", err)
	}
	m.publish(eventbus.JobUpdated, updated)
	var warnings []string
	if p.RescheduleNeeded() || p.Name != nil {
		warnings = m.sync(ctx, id, &updated)
	}
	return m.success("job updated", id, warnings)
}

// Delete removes the job from every backend. Its execution logs are kept.
func (m *Manager) Delete(ctx context.Context, id string) OperationResult {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	removed, err := m.reg.Delete(ctx, id)
	if err != nil {
		return failure("delete job", err)
	}
	m.publish(eventbus.JobDeleted, removed)
	warnings := m.sync(ctx, id, nil)
	return OperationResult{Success: true, Message: withWarnings("job deleted", warnings), Job: &removed}
}

// Toggle flips enabled on the committed state.
func (m *Manager) Toggle(ctx context.Context, id string) OperationResult {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	updated, err := m.reg.Update(ctx, id, func(j *job.Job) error {
		j.Enabled = !j.Enabled
		if !j.Enabled {
			j.NextRun = nil
		}
		return nil
	})
	if err != nil {
		return failure("toggle job", err)
	}
	m.publish(eventbus.JobUpdated, updated)
	warnings := m.sync(ctx, id, &updated)
	state := "disabled"
	if updated.Enabled {
		state = "enabled"
	}
	return m.success("job "+state, id, warnings)
}

// Duplicate copies a job under a new id. The copy starts disabled.
func (m *Manager) Duplicate(ctx context.Context, id string) OperationResult {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	src, ok := m.reg.Get(id)
	if !ok {
		return failure("duplicate job", fmt.Errorf("%w: %s", job.ErrJobNotFound, id))
	}
	cp := src.Clone()
	cp.ID = job.NewID()
	cp.Name = src.Name + " (copy)"
	cp.Enabled = false
	cp.LastRun, cp.NextRun = nil, nil

	added, err := m.reg.Add(ctx, cp)
	if err != nil {
		return failure("duplicate job", err)
	}
	m.publish(eventbus.JobAdded, added)
	warnings := m.sync(ctx, added.ID, &added)
	return m.success("job duplicated", added.ID, warnings)
}

// TestRun executes j once in the background and plays its audio. The
// registry and the execution logs are not touched.
func (m *Manager) TestRun(ctx context.Context, j job.Job) (TestRunResult, error) {
	if err := command.Validate(j.Command); err != nil {
		return TestRunResult{}, err
	}
	j.RunMode = job.RunBackground
	argv, err := m.builder.BaseArgv(j)
	if err != nil {
		return TestRunResult{}, err
	}
	cfg := m.config()
	timeout := cfg.TestTimeout
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	res := m.run(ctx, argv, runner.Options{Dir: cfg.Home, Timeout: timeout})

	out := TestRunResult{
		Success:  res.OK(),
		Output:   res.Stdout,
		ExitCode: res.ExitCode,
		Duration: res.Duration.Milliseconds(),
		TimedOut: res.TimedOut,
	}
	if !out.Success {
		out.Output = res.Stdout + res.Stderr
		out.Error = fmt.Errorf("%w: %v", job.ErrCommandExecution, res.Err).Error()
	}
	if m.notifier != nil {
		if _, err := m.notifier.Play(ctx, j.Audio, out.Success); err != nil {
			m.log.Warn("test-run notification failed", logx.Err(err))
		}
	}
	return out, nil
}

// OpenTerminal runs the job command once in a new terminal window.
func (m *Manager) OpenTerminal(ctx context.Context, id string) OperationResult {
	j, ok := m.reg.Get(id)
	if !ok {
		return failure("open terminal", fmt.Errorf("%w: %s", job.ErrJobNotFound, id))
	}
	j.RunMode = job.RunTerminal
	argv, err := m.builder.BaseArgv(j)
	if err != nil {
		return failure("open terminal", err)
	}
	home := m.config().Home
	log := m.log.With(logx.String("job", id))
	m.spawn(func() {
		res := m.run(context.WithoutCancel(ctx), argv, runner.Options{Dir: home, Timeout: terminalTimeout})
		if !res.OK() {
			log.Warn("terminal launch failed", logx.Err(res.Err), logx.String("stderr", res.Stderr))
		}
	})
	return OperationResult{Success: true, Message: "opened in terminal", Job: &j}
}

func (m *Manager) Logs(ctx context.Context, jobID string) ([]job.ExecutionLog, error) {
	return m.logs.Query(ctx, jobID)
}

func (m *Manager) PruneLogs(ctx context.Context, jobID string) OperationResult {
	if strings.TrimSpace(jobID) == "" {
		return failure("prune logs", fmt.Errorf("%w: job id required", job.ErrInvalidJobID))
	}
	n, err := m.logs.Prune(ctx, jobID)
	if err != nil {
		return failure("prune logs", err)
	}
	return OperationResult{Success: true, Message: fmt.Sprintf("deleted %d logs", n), Count: n}
}

func (m *Manager) ExportCrontab(ctx context.Context) OperationResult {
	if m.bridge == nil {
		return failure("export crontab", errors.ErrUnsupported)
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	n, err := m.bridge.Export(ctx, m.reg.List())
	if err != nil {
		return failure("export crontab", err)
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.CrontabSynced, Data: n})
	return OperationResult{Success: true, Message: fmt.Sprintf("exported %d jobs to crontab", n), Count: n}
}

// ImportCrontab adds every tagged crontab line as a new job.
func (m *Manager) ImportCrontab(ctx context.Context) OperationResult {
	if m.bridge == nil {
		return failure("import crontab", errors.ErrUnsupported)
	}
	res, err := m.bridge.Import(ctx)
	if err != nil {
		return failure("import crontab", err)
	}
	if len(res.Jobs) == 0 {
		return OperationResult{Success: true, Message: withSkipped("no jobs found to import", res.Skipped)}
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	added, err := m.reg.ImportMany(ctx, res.Jobs)
	if err != nil {
		return failure("import crontab", err)
	}
	for _, j := range added {
		m.publish(eventbus.JobAdded, j)
	}
	warnings := m.reconcile(ctx)
	msg := withSkipped(fmt.Sprintf("imported %d jobs from crontab", len(added)), res.Skipped)
	return OperationResult{Success: true, Message: withWarnings(msg, warnings), Count: len(added)}
}

func (m *Manager) AutoSync() bool { return m.autoSync.Load() }

// SetAutoSync persists the preference. Enabling it checks that crontab is
// reachable and syncs right away.
func (m *Manager) SetAutoSync(ctx context.Context, on bool) OperationResult {
	if m.bridge == nil {
		return failure("set auto-sync", errors.ErrUnsupported)
	}
	if on {
		if err := m.bridge.CheckReadable(ctx); err != nil {
			return failure("enable auto-sync", err)
		}
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.prefs != nil {
		if err := m.prefs.Put(ctx, storage.KeyAutoSync, on); err != nil {
			return failure("set auto-sync", fmt.Errorf("%w: %v", job.ErrPersistence, err))
		}
	}
	m.autoSync.Store(on)
	if !on {
		return OperationResult{Success: true, Message: "auto-sync disabled"}
	}
	n, err := m.bridge.Sync(ctx, m.reg.List())
	if err != nil {
		m.log.Warn("crontab sync failed", logx.Err(err))
		return OperationResult{Success: true, Message: withWarnings("auto-sync enabled", []string{"crontab: " + err.Error()})}
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.CrontabSynced, Data: n})
	return OperationResult{Success: true, Message: fmt.Sprintf("auto-sync enabled, %d jobs synced", n), Count: n}
}

// Reconcile re-arms every enabled job, purges orphan descriptors and
// rewrites the rest.
func (m *Manager) Reconcile(ctx context.Context) OperationResult {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	warnings := m.reconcile(ctx)
	n := 0
	for _, j := range m.reg.List() {
		if j.Enabled {
			n++
		}
	}
	return OperationResult{Success: true, Message: withWarnings(fmt.Sprintf("reconciled %d enabled jobs", n), warnings), Count: n}
}

func (m *Manager) reconcile(ctx context.Context) []string {
	jobs := m.reg.List()
	var warnings []string
	for _, s := range m.strategies {
		if err := s.Reconcile(ctx, jobs); err != nil {
			m.log.Warn("reconcile failed", logx.String("strategy", s.Name()), logx.Err(err))
			warnings = append(warnings, s.Name()+": "+err.Error())
		}
	}
	m.updateArmed()
	return warnings
}

// sync applies one committed change to every backend. Callers hold opMu.
func (m *Manager) sync(ctx context.Context, id string, j *job.Job) []string {
	c := Change{JobID: id, Job: j, All: m.reg.List()}
	var warnings []string
	for _, s := range m.strategies {
		if err := s.Sync(ctx, c); err != nil {
			m.log.Warn("backend sync failed",
				logx.String("strategy", s.Name()), logx.String("job", id), logx.Err(err))
			warnings = append(warnings, s.Name()+": "+err.Error())
		}
	}
	m.updateArmed()
	return warnings
}

func (m *Manager) updateArmed() {
	if m.sched != nil {
		m.metrics.SetArmed(len(m.sched.Armed()))
	}
}

// success re-reads the job so scheduler-written timestamps are included.
func (m *Manager) success(msg, id string, warnings []string) OperationResult {
	res := OperationResult{Success: true, Message: withWarnings(msg, warnings)}
	if j, ok := m.reg.Get(id); ok {
		res.Job = &j
	}
	return res
}

func (m *Manager) publish(typ string, j job.Job) {
	m.bus.Publish(eventbus.Event{Type: typ, Data: j})
}

func failure(op string, err error) OperationResult {
	return OperationResult{Success: false, Message: fmt.Sprintf("%s: %v", op, err), Error: err}
}

func withWarnings(msg string, warnings []string) string {
	if len(warnings) == 0 {
		return msg
	}
	return msg + " (warnings: " + strings.Join(warnings, "; ") + ")"
}

func withSkipped(msg string, skipped []string) string {
	if len(skipped) == 0 {
		return msg
	}
	return fmt.Sprintf("%s, skipped %d unparsable lines", msg, len(skipped))
}

// RegistrationObserver counts and publishes native registration failures.
func RegistrationObserver(bus eventbus.Bus, m *metrics.Metrics, log logx.Logger) func(*job.RegistrationError) {
	return func(e *job.RegistrationError) {
		m.RegistrationFailed(e.Op)
		log.Warn("native registration failed",
			logx.String("label", e.Label), logx.String("op", e.Op), logx.Err(e.Err))
		if bus != nil {
			bus.Publish(eventbus.Event{Type: eventbus.NativeFailed, Data: e})
		}
	}
}
