package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cronkeep/internal/job"
	"cronkeep/internal/manager"
)

type fakeManager struct {
	mu       sync.Mutex
	jobs     map[string]job.Job
	logs     []job.ExecutionLog
	autoSync bool
	calls    []string
}

func newFake() *fakeManager {
	return &fakeManager{jobs: map[string]job.Job{
		"a": {ID: "a", Name: "A", Command: "echo a", Schedule: "* * * * *", Enabled: true},
	}}
}

func (f *fakeManager) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeManager) List() []job.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]job.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeManager) Get(id string) (job.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	return j, ok
}

func (f *fakeManager) Add(_ context.Context, j job.Job) manager.OperationResult {
	if j.Command == "" {
		err := fmt.Errorf("%w: command required", job.ErrInvalidJob)
		return manager.OperationResult{Message: "add job: " + err.Error(), Error: err}
	}
	f.mu.Lock()
	j.ID = "new"
	f.jobs[j.ID] = j
	f.mu.Unlock()
	return manager.OperationResult{Success: true, Message: "job added", Job: &j}
}

func (f *fakeManager) Update(_ context.Context, id string, p job.Patch) manager.OperationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return notFound(id)
	}
	p.Apply(&j)
	f.jobs[id] = j
	return manager.OperationResult{Success: true, Message: "job updated", Job: &j}
}

func (f *fakeManager) Delete(_ context.Context, id string) manager.OperationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return notFound(id)
	}
	delete(f.jobs, id)
	return manager.OperationResult{Success: true, Message: "job deleted"}
}

func (f *fakeManager) Toggle(_ context.Context, id string) manager.OperationResult {
	f.record("toggle " + id)
	return manager.OperationResult{Success: true, Message: "job disabled"}
}

func (f *fakeManager) Duplicate(_ context.Context, id string) manager.OperationResult {
	f.record("duplicate " + id)
	return manager.OperationResult{Success: true, Message: "job duplicated"}
}

func (f *fakeManager) OpenTerminal(_ context.Context, id string) manager.OperationResult {
	f.record("terminal " + id)
	return manager.OperationResult{Success: true, Message: "opened in terminal"}
}

func (f *fakeManager) TestRun(_ context.Context, j job.Job) (manager.TestRunResult, error) {
	if strings.Contains(j.Command, "'") {
		return manager.TestRunResult{}, job.ErrInvalidCommand
	}
	return manager.TestRunResult{Success: true, Output: "out\n", Duration: 3}, nil
}

func (f *fakeManager) Logs(_ context.Context, jobID string) ([]job.ExecutionLog, error) {
	var out []job.ExecutionLog
	for _, l := range f.logs {
		if jobID == "" || l.JobID == jobID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeManager) PruneLogs(_ context.Context, jobID string) manager.OperationResult {
	f.record("prune " + jobID)
	return manager.OperationResult{Success: true, Message: "deleted 2 logs", Count: 2}
}

func (f *fakeManager) ExportCrontab(context.Context) manager.OperationResult {
	return manager.OperationResult{Success: true, Message: "exported 1 jobs to crontab", Count: 1}
}

func (f *fakeManager) ImportCrontab(context.Context) manager.OperationResult {
	return manager.OperationResult{Success: true, Message: "no jobs found to import"}
}

func (f *fakeManager) AutoSync() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoSync
}

func (f *fakeManager) SetAutoSync(_ context.Context, on bool) manager.OperationResult {
	f.mu.Lock()
	f.autoSync = on
	f.mu.Unlock()
	return manager.OperationResult{Success: true, Message: "ok"}
}

func (f *fakeManager) Sounds() []string { return []string{"Glass", "Ping"} }

func (f *fakeManager) Reconcile(context.Context) manager.OperationResult {
	return manager.OperationResult{Success: true, Message: "reconciled 1 enabled jobs", Count: 1}
}

func notFound(id string) manager.OperationResult {
	err := fmt.Errorf("%w: %s", job.ErrJobNotFound, id)
	return manager.OperationResult{Message: err.Error(), Error: err}
}

func newTestClient(t *testing.T, f *fakeManager, cfg Config) *Client {
	t.Helper()
	s := New(cfg, f, Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		Health:  func() any { return map[string]int{"goroutines": 3} },
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	c := NewClient(ts.URL)
	c.HTTP = ts.Client()
	return c
}

func TestJobCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFake()
	c := newTestClient(t, f, Config{})

	jobs, err := c.List(ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("List = %v, %v", jobs, err)
	}
	j, err := c.Get(ctx, "a")
	if err != nil || j.Name != "A" {
		t.Fatalf("Get = %+v, %v", j, err)
	}

	res, err := c.Add(ctx, job.Job{Name: "B", Command: "echo b", Schedule: "0 * * * *"})
	if err != nil || !res.Success || res.Job == nil || res.Job.ID != "new" {
		t.Fatalf("Add = %+v, %v", res, err)
	}

	name := "renamed"
	res, err = c.Update(ctx, "a", job.Patch{Name: &name})
	if err != nil || res.Job.Name != "renamed" {
		t.Fatalf("Update = %+v, %v", res, err)
	}

	if _, err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := f.Get("a"); ok {
		t.Fatalf("job not deleted")
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t, newFake(), Config{})

	cases := []struct {
		name   string
		call   func() error
		status int
	}{
		{"get missing", func() error { _, err := c.Get(ctx, "nope"); return err }, http.StatusNotFound},
		{"delete missing", func() error { _, err := c.Delete(ctx, "nope"); return err }, http.StatusNotFound},
		{"invalid job", func() error { _, err := c.Add(ctx, job.Job{Name: "x"}); return err }, http.StatusBadRequest},
		{"invalid command", func() error { _, err := c.TestRun(ctx, job.Job{Command: "echo 'x"}); return err }, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Status != tc.status || apiErr.Message == "" {
				t.Fatalf("err = %v, want status %d", err, tc.status)
			}
		})
	}
}

func TestRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, newFake(), Config{})
	req, _ := http.NewRequest(http.MethodPatch, c.BaseURL+"/api/jobs/a", strings.NewReader(`{"bogus":1}`))
	resp, err := c.HTTP.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestJobOps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFake()
	c := newTestClient(t, f, Config{})

	if _, err := c.Toggle(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Duplicate(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Terminal(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if res, err := c.PruneLogs(ctx, "a"); err != nil || res.Count != 2 {
		t.Fatalf("PruneLogs = %+v, %v", res, err)
	}
	want := "toggle a,duplicate a,terminal a,prune a"
	if got := strings.Join(f.calls, ","); got != want {
		t.Fatalf("calls = %s", got)
	}

	out, err := c.TestRun(ctx, job.Job{Command: "echo hi"})
	if err != nil || !out.Success || out.Output != "out\n" {
		t.Fatalf("TestRun = %+v, %v", out, err)
	}
}

func TestCrontabAndMisc(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFake()
	f.logs = []job.ExecutionLog{{ID: "a-1", JobID: "a"}, {ID: "b-1", JobID: "b"}}
	c := newTestClient(t, f, Config{})

	if on, err := c.AutoSync(ctx); err != nil || on {
		t.Fatalf("AutoSync = %v, %v", on, err)
	}
	if _, err := c.SetAutoSync(ctx, true); err != nil || !f.AutoSync() {
		t.Fatalf("SetAutoSync: %v", err)
	}
	if res, err := c.ExportCrontab(ctx); err != nil || res.Count != 1 {
		t.Fatalf("Export = %+v, %v", res, err)
	}
	if _, err := c.ImportCrontab(ctx); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if logs, err := c.Logs(ctx, "a"); err != nil || len(logs) != 1 {
		t.Fatalf("Logs = %v, %v", logs, err)
	}
	if logs, err := c.Logs(ctx, "none"); err != nil || logs == nil || len(logs) != 0 {
		t.Fatalf("empty Logs = %v, %v", logs, err)
	}
	if sounds, err := c.Sounds(ctx); err != nil || len(sounds) != 2 {
		t.Fatalf("Sounds = %v, %v", sounds, err)
	}
	if res, err := c.Reconcile(ctx); err != nil || res.Count != 1 {
		t.Fatalf("Reconcile = %+v, %v", res, err)
	}
	h, err := c.Health(ctx)
	if err != nil || h["status"] != "ok" || h["daemon"] == nil {
		t.Fatalf("Health = %v, %v", h, err)
	}
}

func TestMetricsAndPprofMounts(t *testing.T) {
	t.Parallel()
	cases := []struct {
		pprof bool
		want  int
	}{
		{false, http.StatusNotFound},
		{true, http.StatusOK},
	}
	for _, tc := range cases {
		c := newTestClient(t, newFake(), Config{Pprof: tc.pprof})
		resp, err := c.HTTP.Get(c.BaseURL + "/debug/pprof/")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("pprof=%v status = %d", tc.pprof, resp.StatusCode)
		}

		resp, err = c.HTTP.Get(c.BaseURL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("metrics status = %d", resp.StatusCode)
		}
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, newFake(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	for s.Addr() == "" {
		select {
		case err := <-done:
			t.Fatalf("Serve exited early: %v", err)
		case <-time.After(time.Millisecond):
		}
	}
	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Serve = %v", err)
	}
}
