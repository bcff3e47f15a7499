package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cronkeep/internal/config"
	"cronkeep/internal/job"
)

func TestResolvePaths(t *testing.T) {
	t.Setenv("HOME", "/home/u")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "/state")

	cfg := config.Defaults()
	p, err := resolvePaths(cfg, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if p.UnitDir != "/home/u/.config/systemd/user" || p.LogDir != "/state/cronkeep/logs" {
		t.Fatalf("linux paths = %+v", p)
	}

	p, _ = resolvePaths(cfg, "darwin")
	if p.AgentsDir != "/home/u/Library/LaunchAgents" || p.LogDir != "/home/u/Library/Logs/cronkeep" {
		t.Fatalf("darwin paths = %+v", p)
	}

	cfg.Native.LogDir = "~/logs"
	p, _ = resolvePaths(cfg, "darwin")
	if p.LogDir != "/home/u/logs" {
		t.Fatalf("expanded log dir = %q", p.LogDir)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	p := Paths{Home: "/h", DataDir: "/h/.cronkeep"}
	cases := []struct {
		in       config.StorageConfig
		driver   string
		path     string
		busyZero bool
	}{
		{config.StorageConfig{}, "file", "/h/.cronkeep/store.json", true},
		{config.StorageConfig{Driver: "sqlite"}, "sqlite", "/h/.cronkeep/cronkeep.db", false},
		{config.StorageConfig{Driver: "SQLite", Path: "~/x.db", BusyTimeout: "3s"}, "sqlite", "/h/x.db", false},
		{config.StorageConfig{Driver: "memory"}, "memory", "", true},
	}
	for _, tc := range cases {
		cfg := config.Defaults()
		cfg.Storage = tc.in
		got := mapStorageConfig(cfg, p)
		if got.Driver != tc.driver || got.Path != tc.path || (got.BusyTimeout == 0) != tc.busyZero {
			t.Fatalf("mapStorageConfig(%+v) = %+v", tc.in, got)
		}
	}
}

func TestAppLifecycle(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfgPath := filepath.Join(home, "cronkeep.yaml")
	err := os.WriteFile(cfgPath, []byte(`
logging:
  console: false
native:
  backend: none
storage:
  driver: memory
api:
  addr: 127.0.0.1:0
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res := a.Manager().Add(ctx, job.Job{ID: "hello", Name: "hello", Command: "/bin/echo hi", Schedule: "0 3 * * *", Enabled: true})
	if !res.Success || res.Job.NextRun == nil {
		t.Fatalf("Add = %+v", res)
	}
	h := a.health().(healthState)
	if h.Armed != 1 || h.Native != "none" {
		t.Fatalf("health = %+v", h)
	}
	watched := false
	for _, g := range h.Supervisor.Goroutines {
		if g.Name == "config.watch.restart" {
			watched = true
		}
	}
	if !watched {
		t.Fatalf("config watcher not supervised for restart: %+v", h.Supervisor.Goroutines)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}
