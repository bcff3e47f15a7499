package execlog

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"cronkeep/internal/job"
	"cronkeep/internal/storage"
)

func mkLog(jobID string, at time.Time) job.ExecutionLog {
	return job.ExecutionLog{
		ID:        fmt.Sprintf("%s-%d", jobID, at.UnixMilli()),
		JobID:     jobID,
		StartTime: at,
		Status:    job.StatusRunning,
	}
}

func TestAppendReplacesByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(storage.NewMemory(), 0)
	start := time.Now()

	l := mkLog("a", start)
	if err := s.Append(ctx, l); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	l.Status = job.StatusSuccess
	l.Output = "done"
	if err := s.Append(ctx, l); err != nil {
		t.Fatalf("update error: %v", err)
	}

	got, err := s.Query(ctx, "a")
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(got) != 1 || got[0].Status != job.StatusSuccess || got[0].Output != "done" {
		t.Fatalf("Query = %+v", got)
	}
}

func TestRetentionPerJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(storage.NewMemory(), 0)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, mkLog("other", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append other: %v", err)
		}
	}

	// insert out of order so eviction has to sort by start time
	order := rand.New(rand.NewSource(7)).Perm(130)
	for _, i := range order {
		if err := s.Append(ctx, mkLog("busy", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Append busy: %v", err)
		}
	}

	busy, _ := s.Query(ctx, "busy")
	if len(busy) != DefaultRetention {
		t.Fatalf("busy logs = %d, want %d", len(busy), DefaultRetention)
	}
	// the 30 oldest (hours 0..29) must be gone
	oldest := busy[len(busy)-1].StartTime
	if want := base.Add(30 * time.Hour); !oldest.Equal(want) {
		t.Fatalf("oldest kept = %v, want %v", oldest, want)
	}
	other, _ := s.Query(ctx, "other")
	if len(other) != 5 {
		t.Fatalf("other logs = %d, want 5", len(other))
	}
}

func TestQuerySortsDescending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(storage.NewMemory(), 0)
	base := time.Now()
	for _, d := range []time.Duration{2, 0, 3, 1} {
		id := "a"
		if d%2 == 1 {
			id = "b"
		}
		if err := s.Append(ctx, mkLog(id, base.Add(d*time.Second))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	all, _ := s.Query(ctx, "")
	if len(all) != 4 {
		t.Fatalf("all = %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime.After(all[i-1].StartTime) {
			t.Fatalf("not descending at %d: %v", i, all)
		}
	}
}

func TestSurvivesReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	if err := New(st, 0).Append(ctx, mkLog("a", time.Now())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := New(st, 0).Query(ctx, "a")
	if err != nil || len(got) != 1 {
		t.Fatalf("reloaded Query = %v, %v", got, err)
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(storage.NewMemory(), 0)
	now := time.Now()
	_ = s.Append(ctx, mkLog("a", now))
	_ = s.Append(ctx, mkLog("a", now.Add(time.Second)))
	_ = s.Append(ctx, mkLog("b", now))

	n, err := s.Prune(ctx, "a")
	if err != nil || n != 2 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	rest, _ := s.Query(ctx, "")
	if len(rest) != 1 || rest[0].JobID != "b" {
		t.Fatalf("remaining = %+v", rest)
	}
}
