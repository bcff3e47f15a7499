package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"cronkeep/internal/command"
	"cronkeep/internal/config"
	"cronkeep/internal/native"
	"cronkeep/internal/notify"
	"cronkeep/internal/scheduler"
	"cronkeep/internal/storage"
	"cronkeep/pkg/launchctl"
	logx "cronkeep/pkg/logx"
	"cronkeep/pkg/systemdmanager"
)

// Paths are the per-user locations derived from the home directory.
type Paths struct {
	Home      string
	DataDir   string
	AgentsDir string
	UnitDir   string
	LogDir    string
}

func resolvePaths(cfg *config.Config, goos string) (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve home: %w", err)
	}
	p := Paths{
		Home:      home,
		DataDir:   filepath.Join(home, ".cronkeep"),
		AgentsDir: expandHome(cfg.Native.AgentsDir, home),
		UnitDir:   expandHome(cfg.Native.UnitDir, home),
		LogDir:    expandHome(cfg.Native.LogDir, home),
	}
	if p.AgentsDir == "" {
		p.AgentsDir = filepath.Join(home, "Library", "LaunchAgents")
	}
	if p.UnitDir == "" {
		p.UnitDir = filepath.Join(xdgDir("XDG_CONFIG_HOME", home, ".config"), "systemd", "user")
	}
	if p.LogDir == "" {
		if goos == "darwin" {
			p.LogDir = filepath.Join(home, "Library", "Logs", "cronkeep")
		} else {
			p.LogDir = filepath.Join(xdgDir("XDG_STATE_HOME", home, filepath.Join(".local", "state")), "cronkeep", "logs")
		}
	}
	return p, nil
}

func xdgDir(env, home, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return filepath.Join(home, fallback)
}

func expandHome(p, home string) string {
	p = strings.TrimSpace(p)
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config, p Paths) storage.Config {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "file"
	}
	path := expandHome(sc.Path, p.Home)
	if path == "" && driver != "memory" {
		name := "store.json"
		if driver == "sqlite" {
			name = "cronkeep.db"
		}
		path = filepath.Join(p.DataDir, name)
	}
	busy := sc.BusyTimeoutDuration()
	if driver == "sqlite" && busy == 0 {
		busy = time.Second
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}
}

func mapSchedulerConfig(cfg *config.Config, p Paths) scheduler.Config {
	return scheduler.Config{
		Timezone:   cfg.Scheduler.Timezone,
		RunTimeout: cfg.Scheduler.RunTimeoutDuration(),
		Home:       p.Home,
	}
}

func mapNotifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Enabled:    cfg.Notify.Enabled,
		Timeout:    cfg.Notify.TimeoutDuration(),
		RatePerSec: cfg.Notify.RatePerSec,
	}
}

func newBuilder(cfg *config.Config, goos string) *command.Builder {
	cc := cfg.Command
	candidates := cc.SearchPaths
	if len(candidates) == 0 {
		candidates = command.CandidatesFor(goos)
	}
	return command.NewBuilder(command.Options{
		GOOS:              goos,
		Interpreter:       command.NewInterpreter(cc.Interpreter, candidates),
		KnownInterpreters: cc.KnownInterpreters,
		AutoPrefix:        cc.AutoPrefix,
		Voice:             cfg.Notify.Voice,
	})
}

// newBackend opens the host scheduler for the configured backend. A
// systemd user bus that cannot be reached disables native projection.
func newBackend(ctx context.Context, cfg *config.Config, p Paths, goos string, log logx.Logger) (native.Backend, func() error, error) {
	noop := func() error { return nil }
	switch name := native.Resolve(cfg.Native.Backend, goos); name {
	case native.BackendLaunchd:
		return native.NewLaunchd(p.AgentsDir, cfg.Native.LabelPrefix, launchctl.Client{}), noop, nil
	case native.BackendSystemd:
		tm, err := systemdmanager.NewUserContext(ctx)
		if err != nil {
			log.Warn("systemd user bus unavailable; native backend disabled", logx.Err(err))
			return nil, noop, nil
		}
		return native.NewSystemd(p.UnitDir, cfg.Native.LabelPrefix, tm), tm.Close, nil
	case native.BackendNone:
		return nil, noop, nil
	default:
		return nil, noop, fmt.Errorf("native.backend: unknown backend %q", name)
	}
}

func goos() string { return runtime.GOOS }
