package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "cronkeep/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	retryMin       = 250 * time.Millisecond
	retryMax       = 5 * time.Second
)

const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// debouncer runs fn once a burst of triggers has been quiet for d.
type debouncer struct {
	d  time.Duration
	fn func()

	mu sync.Mutex
	t  *time.Timer
}

func (b *debouncer) trigger() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.t != nil {
		b.t.Reset(b.d)
		return
	}
	b.t = time.AfterFunc(b.d, func() {
		b.mu.Lock()
		b.t = nil
		b.mu.Unlock()
		b.fn()
	})
}

func (b *debouncer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.t != nil {
		b.t.Stop()
		b.t = nil
	}
}

// retryDelay doubles per attempt up to retryMax, with up to 50% jitter.
func retryDelay(attempt int) time.Duration {
	d := retryMin << min(attempt, 5)
	if d > retryMax {
		d = retryMax
	}
	return d + rand.N(d/2+1)
}

// Watch reloads the file on change until ctx is done. The parent directory
// is watched so editors that replace the file are seen. A watcher that
// fails is recreated after a jittered delay.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	db := &debouncer{d: reloadDebounce, fn: func() { m.reload(ctx) }}
	defer db.stop()

	for attempt := 0; ctx.Err() == nil; attempt++ {
		w, err := newDirWatcher(dir)
		if err != nil {
			m.log.Warn("config watch init failed", logx.String("dir", dir), logx.Err(err))
		} else {
			attempt = 0
			m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
			m.watchLoop(ctx, w, file, db.trigger)
			_ = w.Close()
			if ctx.Err() != nil {
				return nil
			}
			m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryDelay(attempt)):
		}
	}
	return nil
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// watchLoop returns when ctx is done or the watcher breaks.
func (m *ConfigManager) watchLoop(ctx context.Context, w *fsnotify.Watcher, file string, changed func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&reloadOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				changed()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok, errors.Is(err, fsnotify.ErrClosed):
				return
			case err == nil:
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				changed()
			default:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
