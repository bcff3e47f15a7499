package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cronkeep/internal/command"
	"cronkeep/internal/job"
	"cronkeep/internal/runner"
	logx "cronkeep/pkg/logx"
)

type Config struct {
	Enabled    bool
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// RunFunc executes a notification command line.
type RunFunc func(ctx context.Context, argv []string, opt runner.Options) runner.Result

// Player plays job audio notifications from the daemon process.
type Player struct {
	builder *command.Builder
	log     logx.Logger
	run     RunFunc

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter

	// OnFailure observes playback failures.
	OnFailure func(error)
}

func NewPlayer(b *command.Builder, cfg Config, log logx.Logger) *Player {
	p := &Player{builder: b, log: log, run: runner.Run}
	p.Apply(cfg)
	return p
}

// WithRunner swaps the process runner.
func (p *Player) WithRunner(fn RunFunc) *Player {
	p.run = fn
	return p
}

// Apply replaces the player settings; zero values take defaults.
func (p *Player) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	p.mu.Lock()
	p.cfg = cfg
	p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	p.mu.Unlock()
}

// Play runs the notification for one outcome. It reports whether anything
// was played; failures wrap job.ErrNotification.
func (p *Player) Play(ctx context.Context, a job.AudioConfig, success bool) (bool, error) {
	p.mu.RLock()
	cfg, lim := p.cfg, p.limiter
	p.mu.RUnlock()

	if !cfg.Enabled || !a.Plays(success) {
		return false, nil
	}
	line := p.builder.NotificationLine(a)
	if line == "" {
		return false, nil
	}
	if !lim.Allow() {
		p.log.Debug("notification dropped by rate limit", logx.String("type", string(a.Type)))
		return false, nil
	}

	res := p.run(ctx, []string{command.Shell, "-c", line}, runner.Options{Timeout: cfg.Timeout})
	if res.Err != nil {
		err := fmt.Errorf("%w: %s: %v", job.ErrNotification, a.Type, res.Err)
		p.log.Warn("notification failed", logx.Err(err))
		if p.OnFailure != nil {
			p.OnFailure(err)
		}
		return true, err
	}
	return true, nil
}
