package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cronkeep/internal/command"
	"cronkeep/internal/eventbus"
	"cronkeep/internal/job"
	"cronkeep/internal/metrics"
	"cronkeep/internal/runner"
	logx "cronkeep/pkg/logx"
)

// Config controls in-process triggering.
type Config struct {
	Timezone   string // IANA TZ; empty means Local
	RunTimeout time.Duration
	Home       string // working directory of runs
}

const DefaultRunTimeout = 5 * time.Minute

// Registry is the job state the scheduler reads and stamps.
type Registry interface {
	Get(id string) (job.Job, bool)
	RecordRun(ctx context.Context, id string, lastRun, nextRun *time.Time) error
}

type LogSink interface {
	Append(ctx context.Context, l job.ExecutionLog) error
}

type Notifier interface {
	Play(ctx context.Context, a job.AudioConfig, success bool) (bool, error)
}

type Deps struct {
	Registry Registry
	Logs     LogSink
	Builder  *command.Builder
	Notifier Notifier
	Bus      eventbus.Bus
	Metrics  *metrics.Metrics
	Log      logx.Logger
	// Run replaces runner.Run in tests.
	Run func(ctx context.Context, argv []string, opt runner.Options) runner.Result
}

// RunReport is the payload of run events.
type RunReport struct {
	JobID    string        `json:"jobId"`
	LogID    string        `json:"logId,omitempty"`
	Status   job.Status    `json:"status,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type def struct {
	job     job.Job
	entryID cron.EntryID
	sched   cron.Schedule
	state   *runState
}

// Service fires enabled jobs while the daemon runs.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*def

	deps Deps
	log  logx.Logger
	warn logx.Logger // sampled, for overlap skips
	now  func() time.Time

	inflight sync.WaitGroup
	runCtx   context.Context
	stopRuns context.CancelFunc
	halted   chan struct{} // closed when the current cron is stopped
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Run == nil {
		deps.Run = runner.Run
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}
	runCtx, stop := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		defs:     map[string]*def{},
		deps:     deps,
		log:      log,
		warn:     log.Sampled(logx.NewSampler(1, 5)),
		now:      time.Now,
		runCtx:   runCtx,
		stopRuns: stop,
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.loc = s.loadLocation(cfg.Timezone)
	if s.c != nil {
		s.restartLocked()
	}
}

// Start begins triggering every armed job. Triggering halts when ctx is
// done; runs already started continue until Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for id, d := range s.defs {
		s.addLocked(id, d)
	}
	s.c.Start()
	halted := make(chan struct{})
	s.halted = halted
	go func() {
		select {
		case <-ctx.Done():
			if s.halt(halted) {
				s.log.Info("scheduler halted", logx.Err(ctx.Err()))
			}
		case <-halted:
		}
	}()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

// halt stops the cron started with token. A nil token stops whatever runs.
func (s *Service) halt(token chan struct{}) bool {
	s.mu.Lock()
	if s.c == nil || (token != nil && s.halted != token) {
		s.mu.Unlock()
		return false
	}
	c := s.c
	s.c = nil
	close(s.halted)
	s.halted = nil
	s.mu.Unlock()
	c.Stop()
	return true
}

// Started reports whether triggering is active.
func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Stop halts triggering and waits for in-flight runs until ctx is done, then
// cancels whatever is still running.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.halt(nil)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.stopRuns()
		err = fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return err
}

// Arm registers or replaces the trigger of j and writes its nextRun.
// Disabled jobs are disarmed.
func (s *Service) Arm(ctx context.Context, j job.Job) (*time.Time, error) {
	if !j.Enabled {
		s.Disarm(j.ID)
		return nil, nil
	}
	sched, err := s.parser.Parse(j.Schedule)
	if err != nil {
		s.Disarm(j.ID)
		return nil, fmt.Errorf("%w: %v", job.ErrInvalidScheduleFormat, err)
	}

	s.mu.Lock()
	prev := s.defs[j.ID]
	d := &def{job: j.Clone(), sched: sched, state: &runState{}}
	if prev != nil {
		// keep the overlap guard across re-arms so a run in progress still counts
		d.state = prev.state
		if s.c != nil {
			s.c.Remove(prev.entryID)
		}
	}
	s.defs[j.ID] = d
	if s.c != nil {
		s.addLocked(j.ID, d)
	}
	next := sched.Next(s.now().In(s.loc))
	armed := len(s.defs)
	s.mu.Unlock()

	s.deps.Metrics.SetArmed(armed)
	if s.deps.Registry != nil {
		if err := s.deps.Registry.RecordRun(ctx, j.ID, nil, &next); err != nil {
			s.log.Warn("record next run failed", logx.String("job", j.ID), logx.Err(err))
		}
	}
	s.log.Debug("job armed", logx.String("job", j.ID), logx.String("schedule", j.Schedule), logx.Time("next", next))
	return &next, nil
}

// Disarm removes the trigger of id. Runs already started finish.
func (s *Service) Disarm(id string) bool {
	s.mu.Lock()
	d, ok := s.defs[id]
	if ok {
		if s.c != nil {
			s.c.Remove(d.entryID)
		}
		delete(s.defs, id)
	}
	armed := len(s.defs)
	s.mu.Unlock()
	if ok {
		s.deps.Metrics.SetArmed(armed)
	}
	return ok
}

// Next returns the next fire time of an armed job.
func (s *Service) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[id]
	if !ok {
		return time.Time{}, false
	}
	return d.sched.Next(s.now().In(s.loc)), true
}

// Armed lists armed job ids.
func (s *Service) Armed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for id := range s.defs {
		out = append(out, id)
	}
	return out
}

// Running reports whether a run of id is in progress.
func (s *Service) Running(id string) bool {
	s.mu.Lock()
	d, ok := s.defs[id]
	s.mu.Unlock()
	return ok && d.state.busy()
}

func (s *Service) addLocked(id string, d *def) {
	d.entryID = s.c.Schedule(d.sched, cron.FuncJob(func() { s.Fire(id) }))
}

// restartLocked does not wait for the old cron: its running jobs call back
// into the service.
func (s *Service) restartLocked() {
	s.c.Stop()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for id, d := range s.defs {
		s.addLocked(id, d)
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Fire runs one occurrence of id now, unless a previous run is still going.
func (s *Service) Fire(id string) {
	s.mu.Lock()
	d, ok := s.defs[id]
	var j job.Job
	var state *runState
	if ok {
		j, state = d.job.Clone(), d.state
		s.inflight.Add(1)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	defer s.inflight.Done()

	if !state.tryAcquire() {
		s.warn.Warn("run skipped, previous run still in progress", logx.String("job", id))
		s.deps.Metrics.Skipped(id)
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.RunSkipped, Data: RunReport{JobID: id}})
		return
	}
	defer state.release()
	s.execute(s.runCtx, j)
}

func (s *Service) execute(ctx context.Context, j job.Job) {
	start := s.now()
	entry := job.ExecutionLog{
		ID:        fmt.Sprintf("%s-%d", j.ID, start.UnixMilli()),
		JobID:     j.ID,
		StartTime: start,
		Status:    job.StatusRunning,
	}
	s.appendLog(ctx, entry)
	s.deps.Bus.Publish(eventbus.Event{Type: eventbus.RunStarted, Data: RunReport{JobID: j.ID, LogID: entry.ID}})

	timeout := s.runTimeout()
	var res runner.Result
	argv, err := s.deps.Builder.BaseArgv(j)
	if err != nil {
		res = runner.Result{ExitCode: -1, Err: err}
	} else {
		res = s.deps.Run(ctx, argv, runner.Options{Dir: s.home(), Timeout: timeout})
	}

	end := s.now()
	entry.EndTime = &end
	entry.Duration = end.Sub(start).Milliseconds()
	success := res.Err == nil
	if success {
		entry.Status = job.StatusSuccess
		entry.Output = res.Stdout
	} else {
		entry.Status = job.StatusError
		entry.Output = res.Stderr
		entry.Error = fmt.Errorf("%w: %v", job.ErrCommandExecution, res.Err).Error()
	}
	s.appendLog(ctx, entry)

	var next *time.Time
	if t, ok := s.Next(j.ID); ok {
		next = &t
	}
	if s.deps.Registry != nil {
		if err := s.deps.Registry.RecordRun(context.WithoutCancel(ctx), j.ID, &start, next); err != nil && !errors.Is(err, job.ErrJobNotFound) {
			s.log.Warn("record run failed", logx.String("job", j.ID), logx.Err(err))
		}
	}
	s.deps.Metrics.ObserveRun(string(entry.Status), end.Sub(start))

	if s.deps.Notifier != nil {
		if _, err := s.deps.Notifier.Play(ctx, j.Audio, success); err != nil {
			s.deps.Metrics.NotificationFailed()
		}
	}

	report := RunReport{JobID: j.ID, LogID: entry.ID, Status: entry.Status, Duration: end.Sub(start), Error: entry.Error}
	if success {
		s.log.Info("job run finished", logx.String("job", j.ID), logx.Int64("ms", entry.Duration))
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.RunFinished, Data: report})
	} else {
		s.log.Warn("job run failed", logx.String("job", j.ID), logx.Int64("ms", entry.Duration), logx.String("err", entry.Error))
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.RunFailed, Data: report})
	}
}

func (s *Service) appendLog(ctx context.Context, l job.ExecutionLog) {
	if s.deps.Logs == nil {
		return
	}
	if err := s.deps.Logs.Append(context.WithoutCancel(ctx), l); err != nil {
		s.log.Warn("execution log write failed", logx.String("log", l.ID), logx.Err(err))
	}
}

func (s *Service) runTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.RunTimeout <= 0 {
		return DefaultRunTimeout
	}
	return s.cfg.RunTimeout
}

func (s *Service) home() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Home
}
