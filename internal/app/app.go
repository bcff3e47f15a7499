package app

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"cronkeep/internal/api"
	"cronkeep/internal/command"
	"cronkeep/internal/config"
	"cronkeep/internal/crontab"
	"cronkeep/internal/eventbus"
	"cronkeep/internal/execlog"
	"cronkeep/internal/job"
	"cronkeep/internal/manager"
	"cronkeep/internal/metrics"
	"cronkeep/internal/native"
	"cronkeep/internal/notify"
	"cronkeep/internal/runtime/supervisor"
	"cronkeep/internal/scheduler"
	"cronkeep/internal/storage"
	logx "cronkeep/pkg/logx"
)

const schedulerStopTimeout = 10 * time.Second

// App is the cronkeep daemon.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	paths Paths

	metrics *metrics.Metrics
	builder *command.Builder
	player  *notify.Player
	sched   *scheduler.Service
	native  *native.Store
	mgr     *manager.Manager
	api     *api.Server

	closeBackend func() error
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	goos := goos()
	paths, err := resolvePaths(cfg, goos)
	if err != nil {
		return nil, err
	}

	sc := mapStorageConfig(cfg, paths)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	bus := eventbus.New()
	m := metrics.New()
	builder := newBuilder(cfg, goos)

	player := notify.NewPlayer(builder, mapNotifyConfig(cfg), log.With(logx.String("comp", "notify")))
	player.OnFailure = func(error) { m.NotificationFailed() }

	reg := job.NewRegistry(store, log.With(logx.String("comp", "registry")))
	logs := execlog.New(store, execlog.DefaultRetention)

	sched := scheduler.New(mapSchedulerConfig(cfg, paths), scheduler.Deps{
		Registry: reg,
		Logs:     logs,
		Builder:  builder,
		Notifier: player,
		Bus:      bus,
		Metrics:  m,
		Log:      log.With(logx.String("comp", "scheduler")),
	})

	nativeLog := log.With(logx.String("comp", "native"))
	bctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	backend, closeBackend, err := newBackend(bctx, cfg, paths, goos, nativeLog)
	cancel()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ns := native.NewStore(native.Options{
		Backend:             backend,
		Builder:             builder,
		LogDir:              paths.LogDir,
		Home:                paths.Home,
		Env:                 native.Environment(paths.Home, cfg.Native.Shell, cfg.Native.Environment),
		Log:                 nativeLog,
		OnRegistrationError: manager.RegistrationObserver(bus, m, nativeLog),
	})

	bridge := crontab.NewBridge(crontab.ExecTable{Binary: cfg.Crontab.Binary}, cfg.Crontab.Tag,
		log.With(logx.String("comp", "crontab")))

	mgr := manager.New(manager.Options{
		Config:    manager.Config{TestTimeout: cfg.Scheduler.TestTimeoutDuration(), Home: paths.Home},
		Registry:  reg,
		Logs:      logs,
		Store:     store,
		Scheduler: sched,
		Native:    ns,
		Crontab:   bridge,
		Builder:   builder,
		Notifier:  player,
		Bus:       bus,
		Metrics:   m,
		Log:       log.With(logx.String("comp", "manager")),
	})

	a := &App{
		cfgm:         cfgm,
		log:          appLog,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		paths:        paths,
		metrics:      m,
		builder:      builder,
		player:       player,
		sched:        sched,
		native:       ns,
		mgr:          mgr,
		closeBackend: closeBackend,
	}
	a.api = api.New(api.Config{Addr: cfg.API.Addr, Pprof: cfg.API.Pprof}, mgr, api.Options{
		Metrics: m.Handler(),
		Health:  a.health,
		Log:     log.With(logx.String("comp", "api")),
	})
	return a, nil
}

func (a *App) Manager() *manager.Manager { return a.mgr }

// Done is closed when the supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := net.SplitHostPort(cfg.API.Addr); err != nil {
			return fmt.Errorf("api.addr: %w", err)
		}
		return nil
	})

	if err := a.mgr.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("api", a.api.Serve)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, cfg)
				last = cfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)

	a.log.Info("cronkeep started",
		logx.String("config", a.cfgm.Path()),
		logx.String("native", a.native.BackendName()),
		logx.Strings("strategies", a.mgr.Strategies()))
	return nil
}

// applyConfig hot-applies logging, notify and scheduler settings.
func (a *App) applyConfig(oldCfg, cfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(cfg))
	a.player.Apply(mapNotifyConfig(cfg))
	a.sched.Apply(mapSchedulerConfig(cfg, a.paths))
	a.mgr.Apply(manager.Config{TestTimeout: cfg.Scheduler.TestTimeoutDuration(), Home: a.paths.Home})

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case scheduler.RunReport:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("job", d.JobID),
			logx.String("status", string(d.Status)), logx.Duration("took", d.Duration))
	case job.Job:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("job", d.ID))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

type healthState struct {
	Supervisor supervisor.Snapshot `json:"supervisor"`
	Native     string              `json:"native"`
	Strategies []string            `json:"strategies"`
	AutoSync   bool                `json:"autoSync"`
	Armed      int                 `json:"armed"`
}

func (a *App) health() any {
	h := healthState{
		Native:     a.native.BackendName(),
		Strategies: a.mgr.Strategies(),
		AutoSync:   a.mgr.AutoSync(),
		Armed:      len(a.sched.Armed()),
	}
	if a.sup != nil {
		h.Supervisor = a.sup.Snapshot()
	}
	return h
}

// Stop shuts the daemon down. Native descriptors stay registered.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", schedulerStopTimeout, a.mgr.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("native", time.Second, func(context.Context) error { return a.closeBackend() })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
