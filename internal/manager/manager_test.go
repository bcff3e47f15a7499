package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cronkeep/internal/command"
	"cronkeep/internal/crontab"
	"cronkeep/internal/execlog"
	"cronkeep/internal/job"
	"cronkeep/internal/native"
	"cronkeep/internal/runner"
	"cronkeep/internal/scheduler"
	"cronkeep/internal/storage"
	logx "cronkeep/pkg/logx"
)

type fakeLoader struct {
	mu    sync.Mutex
	loads int
	delay time.Duration
}

func (f *fakeLoader) Load(context.Context, string) error {
	f.mu.Lock()
	f.loads++
	d := f.delay
	f.mu.Unlock()
	time.Sleep(d)
	return nil
}

func (f *fakeLoader) Unload(context.Context, string) error {
	f.mu.Lock()
	d := f.delay
	f.mu.Unlock()
	time.Sleep(d)
	return nil
}

type fakeTable struct {
	mu      sync.Mutex
	content string
	readErr error
}

func (f *fakeTable) Read(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, f.readErr
}

func (f *fakeTable) Write(_ context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = content
	return nil
}

func (f *fakeTable) get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content
}

type fakeNotifier struct {
	mu    sync.Mutex
	plays []bool
}

func (f *fakeNotifier) Play(_ context.Context, a job.AudioConfig, success bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !a.Plays(success) {
		return false, nil
	}
	f.plays = append(f.plays, success)
	return true, nil
}

type fakeRun struct {
	mu    sync.Mutex
	argvs [][]string
	res   runner.Result
}

func (f *fakeRun) run(_ context.Context, argv []string, _ runner.Options) runner.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.argvs = append(f.argvs, argv)
	return f.res
}

type env struct {
	m        *Manager
	mem      *storage.Memory
	reg      *job.Registry
	logs     *execlog.Store
	sched    *scheduler.Service
	native   *native.Store
	table    *fakeTable
	notifier *fakeNotifier
	run      *fakeRun
	loader   *fakeLoader
	agents   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	mem := storage.NewMemory()
	reg := job.NewRegistry(mem, logx.Nop())
	logs := execlog.New(mem, 0)
	builder := command.NewBuilder(command.Options{GOOS: "linux", Interpreter: command.Fixed("/usr/bin/python3")})
	n := &fakeNotifier{}
	run := &fakeRun{res: runner.Result{Stdout: "ok\n"}}
	sched := scheduler.New(scheduler.Config{Timezone: "UTC", Home: dir}, scheduler.Deps{
		Registry: reg, Logs: logs, Builder: builder, Notifier: n, Run: run.run,
	})
	agents := filepath.Join(dir, "agents")
	loader := &fakeLoader{}
	ns := native.NewStore(native.Options{
		Backend: native.NewLaunchd(agents, "", loader),
		Builder: builder,
		LogDir:  filepath.Join(dir, "logs"),
		Home:    dir,
	})
	table := &fakeTable{content: "MAILTO=me\n"}
	m := New(Options{
		Config:    Config{Home: dir, TestTimeout: time.Second},
		Registry:  reg,
		Logs:      logs,
		Store:     mem,
		Scheduler: sched,
		Native:    ns,
		Crontab:   crontab.NewBridge(table, "", logx.Nop()),
		Builder:   builder,
		Notifier:  n,
		Run:       run.run,
		Spawn:     func(fn func()) { fn() },
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return &env{m: m, mem: mem, reg: reg, logs: logs, sched: sched, native: ns, table: table, notifier: n, run: run, loader: loader, agents: agents}
}

func (e *env) labels(t *testing.T, id string) []string {
	t.Helper()
	got, err := e.native.Labels(id)
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	return got
}

func (e *env) armed(id string) bool {
	_, ok := e.sched.Next(id)
	return ok
}

func newJob(name string) job.Job {
	return job.Job{
		Name: name, Command: "/bin/echo " + name, Schedule: "0 9 * * *", Enabled: true,
		Audio: job.AudioConfig{Enabled: true, Type: job.AudioSystem, SystemSound: "Glass", PlayOnSuccess: true, PlayOnError: true},
	}
}

func mustAdd(t *testing.T, e *env, j job.Job) job.Job {
	t.Helper()
	res := e.m.Add(context.Background(), j)
	if !res.Success || res.Job == nil {
		t.Fatalf("Add = %+v", res)
	}
	return *res.Job
}

func TestAddSyncsEveryBackend(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	if res := e.m.SetAutoSync(context.Background(), true); !res.Success {
		t.Fatalf("SetAutoSync = %+v", res)
	}

	j := mustAdd(t, e, newJob("backup"))

	if j.ID == "" || j.NextRun == nil {
		t.Fatalf("added job = %+v", j)
	}
	if !e.armed(j.ID) {
		t.Fatalf("job not armed in process")
	}
	if got := e.labels(t, j.ID); len(got) != 1 {
		t.Fatalf("labels = %v", got)
	}
	tab := e.table.get()
	if !strings.HasPrefix(tab, "MAILTO=me\n") || !strings.Contains(tab, "0 9 * * * /bin/echo backup # CronJobManager: backup") {
		t.Fatalf("crontab = %q", tab)
	}
	if got := e.m.Strategies(); strings.Join(got, ",") != "inproc,native,crontab" {
		t.Fatalf("strategies = %v", got)
	}
}

func TestAddRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		edit func(*job.Job)
		want error
	}{
		{"unterminated quote", func(j *job.Job) { j.Command = `echo "oops` }, job.ErrInvalidCommand},
		{"bad schedule", func(j *job.Job) { j.Schedule = "every day" }, job.ErrInvalidScheduleFormat},
		{"bad id", func(j *job.Job) { j.ID = "a.b" }, job.ErrInvalidJobID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			j := newJob("x")
			tc.edit(&j)
			res := e.m.Add(context.Background(), j)
			if res.Success || !errors.Is(res.Error, tc.want) {
				t.Fatalf("Add = %+v, want %v", res, tc.want)
			}
			if len(e.m.List()) != 0 {
				t.Fatalf("registry changed")
			}
		})
	}
}

func TestPersistenceFailureSkipsBackends(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.mem.SetFailPut(errors.New("disk full"))

	j := newJob("x")
	j.ID = "x"
	res := e.m.Add(context.Background(), j)
	if res.Success || !errors.Is(res.Error, job.ErrPersistence) {
		t.Fatalf("Add = %+v", res)
	}
	if e.armed("x") {
		t.Fatalf("armed after failed persist")
	}
	if got := e.labels(t, "x"); len(got) != 0 {
		t.Fatalf("labels = %v", got)
	}
}

func TestToggleKeepsLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	j := mustAdd(t, e, newJob("toggle"))
	if err := e.logs.Append(ctx, job.ExecutionLog{ID: j.ID + "-1", JobID: j.ID, StartTime: time.Now(), Status: job.StatusSuccess}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	res := e.m.Toggle(ctx, j.ID)
	if !res.Success || res.Job.Enabled || res.Job.NextRun != nil || !strings.Contains(res.Message, "disabled") {
		t.Fatalf("Toggle off = %+v", res)
	}
	if e.armed(j.ID) || len(e.labels(t, j.ID)) != 0 {
		t.Fatalf("disabled job still scheduled")
	}
	if logs, _ := e.m.Logs(ctx, j.ID); len(logs) != 1 {
		t.Fatalf("logs after disable = %d", len(logs))
	}

	res = e.m.Toggle(ctx, j.ID)
	if !res.Success || !res.Job.Enabled || res.Job.NextRun == nil {
		t.Fatalf("Toggle on = %+v", res)
	}
	if !e.armed(j.ID) || len(e.labels(t, j.ID)) != 1 {
		t.Fatalf("re-enabled job not scheduled")
	}
}

func TestDeleteKeepsLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	j := mustAdd(t, e, newJob("gone"))
	_ = e.logs.Append(ctx, job.ExecutionLog{ID: j.ID + "-1", JobID: j.ID, StartTime: time.Now(), Status: job.StatusError})

	if res := e.m.Delete(ctx, j.ID); !res.Success {
		t.Fatalf("Delete = %+v", res)
	}
	if _, ok := e.m.Get(j.ID); ok || e.armed(j.ID) || len(e.labels(t, j.ID)) != 0 {
		t.Fatalf("job still present somewhere")
	}
	if logs, _ := e.m.Logs(ctx, j.ID); len(logs) != 1 {
		t.Fatalf("logs after delete = %d", len(logs))
	}
	if res := e.m.Delete(ctx, j.ID); res.Success || !errors.Is(res.Error, job.ErrJobNotFound) {
		t.Fatalf("second Delete = %+v", res)
	}

	res := e.m.PruneLogs(ctx, j.ID)
	if !res.Success || res.Count != 1 {
		t.Fatalf("PruneLogs = %+v", res)
	}
}

func TestDuplicate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	src := mustAdd(t, e, newJob("nightly"))

	res := e.m.Duplicate(context.Background(), src.ID)
	if !res.Success {
		t.Fatalf("Duplicate = %+v", res)
	}
	cp := *res.Job
	if cp.ID == src.ID || cp.Name != "nightly (copy)" || cp.Enabled || cp.LastRun != nil || cp.NextRun != nil {
		t.Fatalf("copy = %+v", cp)
	}
	if cp.Command != src.Command || cp.Schedule != src.Schedule || cp.Audio != src.Audio {
		t.Fatalf("copy lost fields: %+v", cp)
	}
	if e.armed(cp.ID) || len(e.labels(t, cp.ID)) != 0 {
		t.Fatalf("disabled copy scheduled")
	}
	if len(e.m.List()) != 2 {
		t.Fatalf("jobs = %d", len(e.m.List()))
	}
}

func TestTestRunLeavesStateAlone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	j := mustAdd(t, e, newJob("dryrun"))

	out, err := e.m.TestRun(ctx, j)
	if err != nil {
		t.Fatalf("TestRun: %v", err)
	}
	if !out.Success || out.Output != "ok\n" {
		t.Fatalf("TestRun = %+v", out)
	}
	stored, _ := e.m.Get(j.ID)
	if stored.LastRun != nil {
		t.Fatalf("lastRun written by test run")
	}
	if logs, _ := e.m.Logs(ctx, j.ID); len(logs) != 0 {
		t.Fatalf("test run wrote logs")
	}
	if len(e.notifier.plays) != 1 || !e.notifier.plays[0] {
		t.Fatalf("plays = %v", e.notifier.plays)
	}

	e.run.res = runner.Result{Stderr: "nope\n", ExitCode: 1, Err: errors.New("exit status 1")}
	out, _ = e.m.TestRun(ctx, j)
	if out.Success || !strings.Contains(out.Output, "nope") || !strings.Contains(out.Error, "command execution failed") {
		t.Fatalf("failed TestRun = %+v", out)
	}

	if _, err := e.m.TestRun(ctx, job.Job{Command: "echo 'x"}); !errors.Is(err, job.ErrInvalidCommand) {
		t.Fatalf("invalid TestRun err = %v", err)
	}
}

func TestOpenTerminal(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	j := mustAdd(t, e, newJob("term"))

	if res := e.m.OpenTerminal(context.Background(), j.ID); !res.Success {
		t.Fatalf("OpenTerminal = %+v", res)
	}
	e.run.mu.Lock()
	defer e.run.mu.Unlock()
	if len(e.run.argvs) != 1 || !strings.Contains(e.run.argvs[0][2], "x-terminal-emulator") {
		t.Fatalf("argv = %q", e.run.argvs)
	}
}

func TestImportCrontab(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.table.content = strings.Join([]string{
		"MAILTO=me",
		"*/15 * * * * /usr/bin/backup # CronJobManager: Backup",
		"bogus line # CronJobManager: Broken",
		"0 7 * * * echo plain",
	}, "\n") + "\n"

	res := e.m.ImportCrontab(context.Background())
	if !res.Success || res.Count != 1 || !strings.Contains(res.Message, "skipped 1") {
		t.Fatalf("ImportCrontab = %+v", res)
	}
	jobs := e.m.List()
	if len(jobs) != 1 || jobs[0].Name != "Backup" || !jobs[0].Enabled {
		t.Fatalf("jobs = %+v", jobs)
	}
	if !e.armed(jobs[0].ID) || len(e.labels(t, jobs[0].ID)) != 1 {
		t.Fatalf("imported job not scheduled")
	}
}

func TestAutoSync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.table.readErr = errors.New("crontab: permission denied")

	if res := e.m.SetAutoSync(ctx, true); res.Success || e.m.AutoSync() {
		t.Fatalf("SetAutoSync with unreachable crontab = %+v", res)
	}

	e.table.readErr = nil
	mustAdd(t, e, newJob("later"))
	if strings.Contains(e.table.get(), "later") {
		t.Fatalf("synced while auto-sync off")
	}
	if res := e.m.SetAutoSync(ctx, true); !res.Success || res.Count != 1 {
		t.Fatalf("SetAutoSync = %+v", res)
	}
	if !strings.Contains(e.table.get(), "/bin/echo later") {
		t.Fatalf("crontab not synced on enable: %q", e.table.get())
	}
	var stored bool
	if ok, _ := e.mem.Get(ctx, storage.KeyAutoSync, &stored); !ok || !stored {
		t.Fatalf("preference not persisted")
	}
}

func TestStartReconciles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	j := mustAdd(t, e, newJob("kept"))
	orphan := filepath.Join(e.agents, "com.cronkeep.ghost.plist")
	if err := os.WriteFile(orphan, []byte("<plist/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	e.sched.Disarm(j.ID)

	if res := e.m.Reconcile(ctx); !res.Success || res.Count != 1 {
		t.Fatalf("Reconcile = %+v", res)
	}
	if !e.armed(j.ID) {
		t.Fatalf("enabled job not re-armed")
	}
	if _, err := os.Stat(orphan); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("orphan descriptor kept: %v", err)
	}
}

func TestConcurrentMutationsKeepBackendsInStep(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.loader.mu.Lock()
	e.loader.delay = time.Millisecond
	e.loader.mu.Unlock()

	j := newJob("weekly")
	j.Schedule = "0 9 * * 1,3,5"
	id := mustAdd(t, e, j).ID
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(on bool) {
				defer wg.Done()
				e.m.Update(ctx, id, job.Patch{Enabled: &on})
			}(i%2 == 0)
		}
		wg.Wait()

		cur, _ := e.reg.Get(id)
		labels := e.labels(t, id)
		want := 0
		if cur.Enabled {
			want = 3
		}
		if len(labels) != want || e.armed(id) != cur.Enabled {
			t.Fatalf("round %d: enabled=%v labels=%v armed=%v", round, cur.Enabled, labels, e.armed(id))
		}
	}
}

func TestConcurrentTogglesAreAtomic(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	id := mustAdd(t, e, newJob("flip")).ID
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := e.m.Toggle(ctx, id); !res.Success {
				t.Errorf("Toggle = %+v", res)
			}
		}()
	}
	wg.Wait()

	cur, _ := e.reg.Get(id)
	if !cur.Enabled || !e.armed(id) || len(e.labels(t, id)) != 1 {
		t.Fatalf("after even toggles: enabled=%v armed=%v labels=%v", cur.Enabled, e.armed(id), e.labels(t, id))
	}
}
