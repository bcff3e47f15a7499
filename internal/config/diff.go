package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cronkeep/pkg/logx"
)

// restartSections cannot be hot-applied.
var restartSections = map[string]bool{"storage": true, "native": true, "api": true, "command": true, "crontab": true}

// SummarizeConfigChange returns the changed sections, structured attrs for
// the reload log line and the changed sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	sections := []struct {
		name     string
		old, new any
		attrs    func() []logx.Field
	}{
		{"logging", oldCfg.Logging, newCfg.Logging, func() []logx.Field {
			return []logx.Field{
				logx.String("logging.level", newCfg.Logging.Level),
				logx.Bool("logging.console", newCfg.Logging.Console),
				logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			}
		}},
		{"scheduler", oldCfg.Scheduler, newCfg.Scheduler, func() []logx.Field {
			return []logx.Field{
				logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
				logx.Duration("scheduler.run_timeout", newCfg.Scheduler.RunTimeoutDuration()),
				logx.Duration("scheduler.test_timeout", newCfg.Scheduler.TestTimeoutDuration()),
			}
		}},
		{"native", oldCfg.Native, newCfg.Native, func() []logx.Field {
			keys := make([]string, 0, len(newCfg.Native.Environment))
			for k := range newCfg.Native.Environment {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return []logx.Field{
				logx.String("native.backend", newCfg.Native.Backend),
				logx.String("native.label_prefix", newCfg.Native.LabelPrefix),
				logx.Strings("native.env_keys", keys),
			}
		}},
		{"command", oldCfg.Command, newCfg.Command, func() []logx.Field {
			return []logx.Field{
				logx.String("command.interpreter", newCfg.Command.Interpreter),
				logx.Bool("command.auto_prefix", newCfg.Command.AutoPrefix),
			}
		}},
		{"notify", oldCfg.Notify, newCfg.Notify, func() []logx.Field {
			return []logx.Field{
				logx.Bool("notify.enabled", newCfg.Notify.Enabled),
				logx.Duration("notify.timeout", newCfg.Notify.TimeoutDuration()),
				logx.Any("notify.rate_per_sec", newCfg.Notify.RatePerSec),
			}
		}},
		{"crontab", oldCfg.Crontab, newCfg.Crontab, func() []logx.Field {
			return []logx.Field{logx.String("crontab.tag", newCfg.Crontab.Tag)}
		}},
		{"storage", oldCfg.Storage, newCfg.Storage, func() []logx.Field {
			return []logx.Field{
				logx.String("storage.driver", newCfg.Storage.Driver),
				logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			}
		}},
		{"api", oldCfg.API, newCfg.API, func() []logx.Field {
			return []logx.Field{
				logx.String("api.addr", newCfg.API.Addr),
				logx.Bool("api.pprof", newCfg.API.Pprof),
			}
		}},
	}

	var changed, restart []string
	attrs := make([]logx.Field, 0, 16)
	for _, s := range sections {
		if reflect.DeepEqual(s.old, s.new) {
			continue
		}
		changed = append(changed, s.name)
		attrs = append(attrs, s.attrs()...)
		if restartSections[s.name] {
			restart = append(restart, s.name)
		}
	}
	return changed, attrs, restart
}
