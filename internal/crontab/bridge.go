package crontab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cronkeep/internal/job"
	"cronkeep/internal/schedule"
	logx "cronkeep/pkg/logx"
)

const DefaultTag = "CronJobManager"

var ErrNothingToExport = errors.New("no enabled jobs to export")

// Bridge mirrors enabled jobs into tagged crontab lines.
type Bridge struct {
	table Table
	tag   string
	log   logx.Logger
	now   func() time.Time
}

func NewBridge(t Table, tag string, log logx.Logger) *Bridge {
	if tag == "" {
		tag = DefaultTag
	}
	return &Bridge{table: t, tag: tag, log: log, now: time.Now}
}

func (b *Bridge) marker() string { return "# " + b.tag + ":" }

// Render replaces every tagged line of current with one line per enabled
// job. Untagged lines keep their order.
func (b *Bridge) Render(current string, jobs []job.Job) (string, int) {
	var out []string
	for _, line := range strings.Split(current, "\n") {
		if strings.Contains(line, b.marker()) {
			continue
		}
		out = append(out, line)
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	n := 0
	for _, j := range jobs {
		if !j.Enabled {
			continue
		}
		if strings.ContainsAny(j.Command, "\r\n") {
			b.log.Warn("multi-line command not mirrored to crontab", logx.String("job", j.ID))
			continue
		}
		out = append(out, fmt.Sprintf("%s %s %s %s", j.Schedule, strings.TrimSpace(j.Command), b.marker(), oneLine(j.Name)))
		n++
	}
	if len(out) == 0 {
		return "", 0
	}
	return strings.Join(out, "\n") + "\n", n
}

// Sync rewrites the tagged section. A table that cannot be read is left
// untouched; an absent crontab reads as empty.
func (b *Bridge) Sync(ctx context.Context, jobs []job.Job) (int, error) {
	current, err := b.table.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("read crontab: %w", err)
	}
	content, n := b.Render(current, jobs)
	if err := b.table.Write(ctx, content); err != nil {
		return 0, err
	}
	b.log.Info("crontab synced", logx.Int("jobs", n))
	return n, nil
}

// Export is Sync that refuses to write when nothing is enabled.
func (b *Bridge) Export(ctx context.Context, jobs []job.Job) (int, error) {
	enabled := false
	for _, j := range jobs {
		if j.Enabled {
			enabled = true
			break
		}
	}
	if !enabled {
		return 0, ErrNothingToExport
	}
	return b.Sync(ctx, jobs)
}

// CheckReadable reports whether the crontab can be read.
func (b *Bridge) CheckReadable(ctx context.Context) error {
	_, err := b.table.Read(ctx)
	return err
}

type ImportResult struct {
	Jobs    []job.Job
	Skipped []string
}

// Import turns tagged lines back into new, enabled jobs.
func (b *Bridge) Import(ctx context.Context) (ImportResult, error) {
	current, err := b.table.Read(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	var res ImportResult
	stamp := b.now().Format("2006-01-02 15:04:05")
	for _, line := range strings.Split(current, "\n") {
		if !strings.Contains(line, b.marker()) {
			continue
		}
		j, ok := b.parseLine(line)
		if !ok {
			res.Skipped = append(res.Skipped, line)
			continue
		}
		if j.Name == "" {
			j.Name = fmt.Sprintf("Imported Job %d", len(res.Jobs)+1)
		}
		j.Description = "Imported from crontab on " + stamp
		res.Jobs = append(res.Jobs, j)
	}
	return res, nil
}

func (b *Bridge) parseLine(line string) (job.Job, bool) {
	entry, name, _ := strings.Cut(line, b.marker())
	fields, cmd := cutFields(entry, 5)
	if len(fields) < 5 || cmd == "" {
		return job.Job{}, false
	}
	sched, err := schedule.Normalize(strings.Join(fields, " "))
	if err != nil {
		return job.Job{}, false
	}
	return job.Job{
		ID:       job.NewID(),
		Name:     strings.TrimSpace(name),
		Command:  cmd,
		Schedule: sched,
		Enabled:  true,
		RunMode:  job.RunBackground,
		Audio:    job.DefaultAudio(),
	}, true
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cutFields splits off the first n whitespace-separated fields of s and
// returns them with the untouched, trimmed remainder.
func cutFields(s string, n int) ([]string, string) {
	var fields []string
	rest := strings.TrimLeft(s, " \t")
	for len(fields) < n && rest != "" {
		i := strings.IndexAny(rest, " \t")
		if i < 0 {
			fields = append(fields, rest)
			rest = ""
			break
		}
		fields = append(fields, rest[:i])
		rest = strings.TrimLeft(rest[i:], " \t")
	}
	return fields, strings.TrimSpace(rest)
}
