package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate reports every invalid field at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	for _, f := range [][2]string{
		{"scheduler.run_timeout", cfg.Scheduler.RunTimeout},
		{"scheduler.test_timeout", cfg.Scheduler.TestTimeout},
		{"notify.timeout", cfg.Notify.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		_, err := duration(f[0], f[1], 0)
		add(err)
	}

	switch cfg.Native.Backend {
	case "", "auto", "launchd", "systemd", "none":
	default:
		add(fmt.Errorf("native.backend: unknown backend %q", cfg.Native.Backend))
	}
	if p := cfg.Native.LabelPrefix; strings.ContainsAny(p, "/ ") {
		add(fmt.Errorf("native.label_prefix: %q must not contain spaces or slashes", p))
	}

	if strings.TrimSpace(cfg.Command.Interpreter) == "" && cfg.Command.AutoPrefix {
		add(errors.New("command.interpreter: required when auto_prefix is set"))
	}

	if cfg.Notify.RatePerSec < 0 {
		add(errors.New("notify.rate_per_sec: must be >= 0"))
	}

	if strings.ContainsAny(cfg.Crontab.Tag, ":#\n") {
		add(fmt.Errorf("crontab.tag: %q must not contain ':', '#' or newlines", cfg.Crontab.Tag))
	}

	switch cfg.Storage.Driver {
	case "", "file", "sqlite", "memory":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	return errors.Join(errs...)
}
