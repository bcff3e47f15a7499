//go:build linux

package systemdmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

var ErrNotConnected = errors.New("systemdmanager: not connected")

// TimerStatus is the state of one timer unit.
type TimerStatus struct {
	Name      string
	Active    string // active, inactive, failed, etc.
	SubState  string // waiting, running, elapsed, etc.
	LoadState string // loaded, not-found, etc.
	Enabled   bool
	NextRun   time.Time // zero when the timer has no upcoming elapse
	LastRun   time.Time
}

// TimerManager registers timer units on the systemd user bus.
type TimerManager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// NewUserContext connects to the calling user's systemd instance.
func NewUserContext(ctx context.Context) (*TimerManager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd user bus: %w", err)
	}
	return &TimerManager{conn: conn}, nil
}

func (tm *TimerManager) Close() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.conn != nil {
		tm.conn.Close()
		tm.conn = nil
	}
	return nil
}

func (tm *TimerManager) connection() (*dbus.Conn, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.conn == nil {
		return nil, ErrNotConnected
	}
	return tm.conn, nil
}

// Reload runs daemon-reload so new or changed unit files are picked up.
func (tm *TimerManager) Reload(ctx context.Context) error {
	conn, err := tm.connection()
	if err != nil {
		return err
	}
	return conn.ReloadContext(ctx)
}

// Register reloads, enables and starts timer (a unit name such as
// "cronkeep-abc.timer").
func (tm *TimerManager) Register(ctx context.Context, timer string) error {
	conn, err := tm.connection()
	if err != nil {
		return err
	}
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{timer}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", timer, err)
	}
	return waitJob(ctx, func(ch chan<- string) (int, error) {
		return conn.StartUnitContext(ctx, timer, "replace", ch)
	}, "start "+timer)
}

// Unregister stops and disables timer. A unit systemd does not know about
// is not an error.
func (tm *TimerManager) Unregister(ctx context.Context, timer string) error {
	conn, err := tm.connection()
	if err != nil {
		return err
	}
	err = waitJob(ctx, func(ch chan<- string) (int, error) {
		return conn.StopUnitContext(ctx, timer, "replace", ch)
	}, "stop "+timer)
	if err != nil && !isNoSuchUnitErr(err) {
		return err
	}
	if _, err := conn.DisableUnitFilesContext(ctx, []string{timer}, false); err != nil && !isNoSuchUnitErr(err) {
		return fmt.Errorf("disable %s: %w", timer, err)
	}
	return conn.ReloadContext(ctx)
}

// Status looks up the timer's state and its next elapse.
func (tm *TimerManager) Status(ctx context.Context, timer string) (*TimerStatus, error) {
	conn, err := tm.connection()
	if err != nil {
		return nil, err
	}
	props, err := conn.GetUnitPropertiesContext(ctx, timer)
	if err != nil {
		return nil, err
	}
	st := &TimerStatus{Name: timer}
	st.Active, _ = getStringProperty(props, "ActiveState")
	st.SubState, _ = getStringProperty(props, "SubState")
	st.LoadState, _ = getStringProperty(props, "LoadState")
	if s, ok := getStringProperty(props, "UnitFileState"); ok {
		st.Enabled = s == "enabled"
	}

	tprops, err := conn.GetUnitTypePropertiesContext(ctx, timer, "Timer")
	if err == nil {
		st.NextRun = usecTime(tprops, "NextElapseUSecRealtime")
		st.LastRun = usecTime(tprops, "LastTriggerUSec")
	}
	return st, nil
}

func waitJob(ctx context.Context, call func(chan<- string) (int, error), what string) error {
	ch := make(chan string, 1)
	if _, err := call(ch); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	select {
	case res := <-ch:
		if res != "done" {
			return fmt.Errorf("%s: job %s", what, res)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
}

func getStringProperty(props map[string]interface{}, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func usecTime(props map[string]interface{}, key string) time.Time {
	v, ok := props[key].(uint64)
	if !ok || v == 0 || v == ^uint64(0) {
		return time.Time{}
	}
	return time.UnixMicro(int64(v))
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	if strings.Contains(es, "NoSuchUnit") {
		return true
	}
	return strings.Contains(es, "not-found") || strings.Contains(es, "not loaded")
}
