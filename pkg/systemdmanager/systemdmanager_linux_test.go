//go:build linux

package systemdmanager

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUsecTime(t *testing.T) {
	want := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	props := map[string]interface{}{
		"Next":  uint64(want.UnixMicro()),
		"Never": ^uint64(0),
		"Zero":  uint64(0),
		"Wrong": "x",
	}
	if got := usecTime(props, "Next"); !got.Equal(want) {
		t.Fatalf("usecTime = %v, want %v", got, want)
	}
	for _, k := range []string{"Never", "Zero", "Wrong", "Missing"} {
		if got := usecTime(props, k); !got.IsZero() {
			t.Fatalf("usecTime(%s) = %v, want zero", k, got)
		}
	}
}

func TestIsNoSuchUnitErr(t *testing.T) {
	if !isNoSuchUnitErr(errors.New("org.freedesktop.systemd1.NoSuchUnit: Unit x.timer not loaded.")) {
		t.Fatalf("expected NoSuchUnit match")
	}
	if isNoSuchUnitErr(errors.New("permission denied")) || isNoSuchUnitErr(nil) {
		t.Fatalf("unexpected match")
	}
}

func TestWaitJob(t *testing.T) {
	ok := func(ch chan<- string) (int, error) { ch <- "done"; return 1, nil }
	if err := waitJob(context.Background(), ok, "start"); err != nil {
		t.Fatalf("waitJob done: %v", err)
	}
	failed := func(ch chan<- string) (int, error) { ch <- "failed"; return 1, nil }
	if err := waitJob(context.Background(), failed, "start"); err == nil {
		t.Fatalf("expected error for failed job")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hang := func(chan<- string) (int, error) { return 1, nil }
	if err := waitJob(ctx, hang, "start"); !errors.Is(err, context.Canceled) {
		t.Fatalf("waitJob canceled = %v", err)
	}
}

func TestClosedManager(t *testing.T) {
	tm := &TimerManager{}
	if err := tm.Reload(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Reload = %v", err)
	}
}
