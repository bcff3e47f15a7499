//go:build !linux

package systemdmanager

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnsupported  = errors.New("systemdmanager: unsupported OS (linux only)")
	ErrNotConnected = errors.New("systemdmanager: not connected")
)

type TimerStatus struct {
	Name      string
	Active    string
	SubState  string
	LoadState string
	Enabled   bool
	NextRun   time.Time
	LastRun   time.Time
}

type TimerManager struct{}

func NewUserContext(ctx context.Context) (*TimerManager, error) {
	return nil, ErrUnsupported
}

func (tm *TimerManager) Close() error { return nil }

func (tm *TimerManager) Reload(ctx context.Context) error { return ErrUnsupported }

func (tm *TimerManager) Register(ctx context.Context, timer string) error { return ErrUnsupported }

func (tm *TimerManager) Unregister(ctx context.Context, timer string) error { return ErrUnsupported }

func (tm *TimerManager) Status(ctx context.Context, timer string) (*TimerStatus, error) {
	return &TimerStatus{Name: timer, Active: "unknown", SubState: "unsupported", LoadState: "unsupported"}, nil
}
