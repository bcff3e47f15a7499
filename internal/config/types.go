package config

import (
	"runtime"
	"time"
)

// Config is the daemon configuration file.
//
// All durations are Go duration strings ("500ms", "10s", "5m"). Omitted
// fields keep their Defaults value.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Native    NativeConfig    `json:"native"`
	Command   CommandConfig   `json:"command"`
	Notify    NotifyConfig    `json:"notify"`
	Crontab   CrontabConfig   `json:"crontab"`
	Storage   StorageConfig   `json:"storage"`
	API       APIConfig       `json:"api"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls in-process triggering and ad hoc runs.
type SchedulerConfig struct {
	// Timezone is an IANA name; empty means the host zone.
	Timezone    string `json:"timezone,omitempty"`
	RunTimeout  string `json:"run_timeout,omitempty"`
	TestTimeout string `json:"test_timeout,omitempty"`
}

// NativeConfig controls the launchd/systemd projection.
//
// Backend is one of "auto", "launchd", "systemd", "none". Empty directories
// resolve to the platform defaults under the user's home.
type NativeConfig struct {
	Backend     string            `json:"backend"`
	LabelPrefix string            `json:"label_prefix,omitempty"`
	AgentsDir   string            `json:"agents_dir,omitempty"`
	UnitDir     string            `json:"unit_dir,omitempty"`
	LogDir      string            `json:"log_dir,omitempty"`
	Shell       string            `json:"shell,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

type CommandConfig struct {
	Interpreter       string   `json:"interpreter"`
	KnownInterpreters []string `json:"known_interpreters,omitempty"`
	SearchPaths       []string `json:"search_paths,omitempty"`
	AutoPrefix        bool     `json:"auto_prefix"`
}

type NotifyConfig struct {
	Enabled    bool    `json:"enabled"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Voice      string  `json:"voice,omitempty"`
}

type CrontabConfig struct {
	Tag    string `json:"tag,omitempty"`
	Binary string `json:"binary,omitempty"`
}

// StorageConfig selects the registry driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "~/.cronkeep/cronkeep.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type APIConfig struct {
	Addr  string `json:"addr"`
	Pprof bool   `json:"pprof,omitempty"`
}

const (
	DefaultRunTimeout    = 5 * time.Minute
	DefaultTestTimeout   = 30 * time.Second
	DefaultNotifyTimeout = 10 * time.Second
)

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{
			RunTimeout:  DefaultRunTimeout.String(),
			TestTimeout: DefaultTestTimeout.String(),
		},
		Native: NativeConfig{
			Backend:     "auto",
			Shell:       "/bin/zsh",
			Environment: DefaultEnvironment(runtime.GOOS),
		},
		Command: CommandConfig{Interpreter: "python3", AutoPrefix: true},
		Notify:  NotifyConfig{Enabled: true, Timeout: DefaultNotifyTimeout.String(), RatePerSec: 2},
		Crontab: CrontabConfig{Tag: "CronJobManager", Binary: "crontab"},
		Storage: StorageConfig{Driver: "file"},
		API:     APIConfig{Addr: "127.0.0.1:7070"},
	}
}

// DefaultEnvironment is the extra environment of native descriptors.
// Homebrew python on Apple silicon needs both.
func DefaultEnvironment(goos string) map[string]string {
	if goos != "darwin" {
		return nil
	}
	return map[string]string{
		"ARCHFLAGS":  "-arch arm64",
		"PYTHONPATH": "/opt/homebrew/lib/python3.11/site-packages:/usr/local/lib/python3.11/site-packages",
	}
}

func (c SchedulerConfig) RunTimeoutDuration() time.Duration {
	d, _ := duration("scheduler.run_timeout", c.RunTimeout, DefaultRunTimeout)
	return d
}

func (c SchedulerConfig) TestTimeoutDuration() time.Duration {
	d, _ := duration("scheduler.test_timeout", c.TestTimeout, DefaultTestTimeout)
	return d
}

func (c NotifyConfig) TimeoutDuration() time.Duration {
	d, _ := duration("notify.timeout", c.Timeout, DefaultNotifyTimeout)
	return d
}

func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	d, _ := duration("storage.busy_timeout", c.BusyTimeout, 0)
	return d
}
