package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"cronkeep/internal/job"
	"cronkeep/internal/manager"
)

var (
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.FgHiBlack)
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printJobs(w io.Writer, jobs []job.Job) {
	if len(jobs) == 0 {
		dimColor.Fprintln(w, "no jobs")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tSTATE\tMODE\tNEXT RUN\tLAST RUN")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Name, j.Schedule, stateLabel(j.Enabled), runMode(j.RunMode),
			formatTime(j.NextRun), formatTime(j.LastRun))
	}
	_ = tw.Flush()
}

func printJob(w io.Writer, j job.Job) {
	tw := newTable(w)
	row := func(k, v string) { fmt.Fprintf(tw, "%s:\t%s\n", k, v) }
	row("id", j.ID)
	row("name", j.Name)
	row("command", j.Command)
	row("schedule", j.Schedule)
	row("state", stateLabel(j.Enabled))
	row("mode", runMode(j.RunMode))
	if j.Description != "" {
		row("description", j.Description)
	}
	row("audio", audioLabel(j.Audio))
	row("next run", formatTime(j.NextRun))
	row("last run", formatTime(j.LastRun))
	_ = tw.Flush()
}

func printLogs(w io.Writer, logs []job.ExecutionLog) {
	if len(logs) == 0 {
		dimColor.Fprintln(w, "no executions")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "JOB\tSTARTED\tSTATUS\tDURATION\tOUTPUT")
	for _, l := range logs {
		summary := l.Output
		if l.Error != "" {
			summary = l.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			l.JobID, l.StartTime.Local().Format(time.DateTime), statusLabel(l.Status),
			(time.Duration(l.Duration) * time.Millisecond).String(), firstLine(summary, 60))
	}
	_ = tw.Flush()
}

func printResult(w io.Writer, res manager.OperationResult) {
	if res.Success {
		okColor.Fprint(w, "ok ")
	} else {
		errColor.Fprint(w, "failed ")
	}
	fmt.Fprintln(w, res.Message)
}

func printTestRun(w io.Writer, res manager.TestRunResult) {
	switch {
	case res.TimedOut:
		warnColor.Fprintln(w, "timed out")
	case res.Success:
		okColor.Fprintln(w, "success")
	default:
		errColor.Fprintf(w, "failed (exit %d)\n", res.ExitCode)
	}
	dimColor.Fprintf(w, "took %s\n", time.Duration(res.Duration)*time.Millisecond)
	if res.Output != "" {
		fmt.Fprintln(w, strings.TrimRight(res.Output, "\n"))
	}
	if res.Error != "" {
		errColor.Fprintln(w, strings.TrimRight(res.Error, "\n"))
	}
}

func stateLabel(enabled bool) string {
	if enabled {
		return okColor.Sprint("enabled")
	}
	return dimColor.Sprint("disabled")
}

func statusLabel(s job.Status) string {
	switch s {
	case job.StatusSuccess:
		return okColor.Sprint(string(s))
	case job.StatusError:
		return errColor.Sprint(string(s))
	default:
		return warnColor.Sprint(string(s))
	}
}

func runMode(m job.RunMode) string {
	if m == "" {
		return string(job.RunBackground)
	}
	return string(m)
}

func audioLabel(a job.AudioConfig) string {
	if !a.Enabled || a.Type == job.AudioNone {
		return "off"
	}
	var detail string
	switch a.Type {
	case job.AudioSystem:
		detail = a.SystemSound
	case job.AudioTTS:
		detail = fmt.Sprintf("%q", a.TTSText)
	case job.AudioFile:
		detail = a.AudioFilePath
	}
	var when []string
	if a.PlayOnSuccess {
		when = append(when, "success")
	}
	if a.PlayOnError {
		when = append(when, "error")
	}
	return fmt.Sprintf("%s %s (on %s)", a.Type, detail, strings.Join(when, ","))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func firstLine(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if r := []rune(s); len(r) > n {
		s = string(r[:n-1]) + "…"
	}
	return s
}
