package crontab

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cronkeep/internal/job"
	logx "cronkeep/pkg/logx"
)

type fakeTable struct {
	content  string
	readErr  error
	writeErr error
	writes   int
}

func (f *fakeTable) Read(context.Context) (string, error) { return f.content, f.readErr }

func (f *fakeTable) Write(_ context.Context, content string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.content = content
	f.writes++
	return nil
}

func jobs() []job.Job {
	return []job.Job{
		{ID: "1", Name: "Backup", Command: "/usr/local/bin/backup.sh --full", Schedule: "0 2 * * *", Enabled: true},
		{ID: "2", Name: "Off", Command: "echo off", Schedule: "* * * * *", Enabled: false},
		{ID: "3", Name: "Report\nweekly", Command: "python3 report.py", Schedule: "30 8 * * 1", Enabled: true},
	}
}

func TestSyncReplacesTaggedLines(t *testing.T) {
	t.Parallel()
	tbl := &fakeTable{content: strings.Join([]string{
		"MAILTO=me@example.com",
		"0 5 * * * /usr/bin/true",
		"1 1 * * * stale # CronJobManager: Old",
		"",
	}, "\n")}
	b := NewBridge(tbl, "", logx.Nop())

	n, err := b.Sync(context.Background(), jobs())
	if err != nil || n != 2 {
		t.Fatalf("Sync = %d, %v", n, err)
	}
	want := strings.Join([]string{
		"MAILTO=me@example.com",
		"0 5 * * * /usr/bin/true",
		"0 2 * * * /usr/local/bin/backup.sh --full # CronJobManager: Backup",
		"30 8 * * 1 python3 report.py # CronJobManager: Report weekly",
	}, "\n") + "\n"
	if tbl.content != want {
		t.Fatalf("crontab =\n%s\nwant\n%s", tbl.content, want)
	}

	// a second sync is stable
	if _, err := b.Sync(context.Background(), jobs()); err != nil || tbl.content != want {
		t.Fatalf("resync changed table:\n%s", tbl.content)
	}
}

func TestSyncLeavesUnreadableTableAlone(t *testing.T) {
	t.Parallel()
	tbl := &fakeTable{content: "0 3 * * * /usr/local/bin/nightly.sh\n", readErr: errors.New("signal: killed")}
	b := NewBridge(tbl, "Tag", logx.Nop())
	if _, err := b.Sync(context.Background(), jobs()[:1]); err == nil || !strings.Contains(err.Error(), "killed") {
		t.Fatalf("Sync err = %v", err)
	}
	if tbl.writes != 0 || tbl.content != "0 3 * * * /usr/local/bin/nightly.sh\n" {
		t.Fatalf("crontab rewritten: writes=%d content=%q", tbl.writes, tbl.content)
	}
}

func TestExportRequiresEnabledJobs(t *testing.T) {
	t.Parallel()
	tbl := &fakeTable{}
	b := NewBridge(tbl, "", logx.Nop())
	if _, err := b.Export(context.Background(), jobs()[1:2]); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("Export err = %v", err)
	}
	if tbl.writes != 0 {
		t.Fatalf("Export wrote with nothing enabled")
	}
}

func TestImport(t *testing.T) {
	t.Parallel()
	tbl := &fakeTable{content: strings.Join([]string{
		"0 5 * * * untagged",
		"0 2 * * * /bin/backup  --keep 'a  b' # CronJobManager: Nightly",
		"15 * * * * cleanup.sh # CronJobManager:",
		"bad line # CronJobManager: Broken",
		"x 2 * * * cmd # CronJobManager: NonNumeric",
	}, "\n")}
	b := NewBridge(tbl, "", logx.Nop())
	b.now = func() time.Time { return time.Date(2026, 7, 4, 10, 30, 0, 0, time.UTC) }

	res, err := b.Import(context.Background())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(res.Jobs) != 2 || len(res.Skipped) != 2 {
		t.Fatalf("jobs = %d, skipped = %v", len(res.Jobs), res.Skipped)
	}
	first := res.Jobs[0]
	if first.Name != "Nightly" || first.Command != "/bin/backup  --keep 'a  b'" || first.Schedule != "0 2 * * *" || !first.Enabled {
		t.Fatalf("first = %+v", first)
	}
	if first.Description != "Imported from crontab on 2026-07-04 10:30:00" || first.Audio != job.DefaultAudio() {
		t.Fatalf("first metadata = %+v", first)
	}
	if res.Jobs[1].Name != "Imported Job 2" || res.Jobs[0].ID == res.Jobs[1].ID {
		t.Fatalf("second = %+v", res.Jobs[1])
	}
	for _, j := range res.Jobs {
		if err := job.Normalize(&j); err != nil {
			t.Fatalf("imported job invalid: %v", err)
		}
	}
}

func TestImportReadError(t *testing.T) {
	t.Parallel()
	b := NewBridge(&fakeTable{readErr: errors.New("denied")}, "", logx.Nop())
	if _, err := b.Import(context.Background()); err == nil {
		t.Fatalf("expected read error")
	}
	if err := b.CheckReadable(context.Background()); err == nil {
		t.Fatalf("expected read error")
	}
}
