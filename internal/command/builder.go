package command

import (
	"fmt"
	"runtime"
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	"cronkeep/internal/job"
)

// Shell runs every generated script.
const Shell = "/bin/bash"

var DefaultKnownInterpreters = []string{"python3", "python"}

type Options struct {
	GOOS              string
	Interpreter       *Interpreter
	KnownInterpreters []string
	// AutoPrefix enables interpreter inference for bare commands.
	AutoPrefix bool
	// Voice is the macOS say voice for tts notifications.
	Voice string
}

// Builder turns a job into the shell line or script that runs it.
type Builder struct {
	GOOS  string
	Voice string

	interp     *Interpreter
	known      []string
	autoPrefix bool
}

func NewBuilder(opt Options) *Builder {
	goos := opt.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	known := opt.KnownInterpreters
	if len(known) == 0 {
		known = DefaultKnownInterpreters
	}
	interp := opt.Interpreter
	if interp == nil {
		interp = NewInterpreter(known[0], CandidatesFor(goos))
	}
	return &Builder{
		GOOS:       goos,
		Voice:      opt.Voice,
		interp:     interp,
		known:      known,
		autoPrefix: opt.AutoPrefix,
	}
}

// Validate rejects commands with unbalanced quoting or no words.
func Validate(cmd string) error {
	words, err := shellquote.Split(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", job.ErrInvalidCommand, err)
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: empty", job.ErrInvalidCommand)
	}
	return nil
}

// Prefixed applies interpreter inference to cmd.
func (b *Builder) Prefixed(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if !b.autoPrefix || strings.HasPrefix(cmd, "/") {
		return cmd
	}
	first := cmd
	if i := strings.IndexAny(cmd, " \t"); i >= 0 {
		first = cmd[:i]
	}
	for _, k := range b.known {
		if strings.HasPrefix(first, k) {
			return cmd
		}
	}
	return shellquote.Join(b.interp.Path()) + " " + cmd
}

// Base returns the job's line with interpreter inference and run mode
// applied but without the audio wrapper.
func (b *Builder) Base(j job.Job) (string, error) {
	if err := Validate(j.Command); err != nil {
		return "", err
	}
	line := b.Prefixed(j.Command)
	if j.RunMode == job.RunTerminal {
		line = b.InTerminal(line)
	}
	return line, nil
}

// InTerminal wraps line so it opens in a new terminal window.
func (b *Builder) InTerminal(line string) string {
	if b.GOOS == "darwin" {
		esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(line)
		return shellquote.Join("osascript", "-e", `tell application "Terminal" to do script "`+esc+`"`)
	}
	return shellquote.Join("x-terminal-emulator", "-e", "bash", "-c", line)
}

// Script returns the full script for a job: the base line, followed by the
// gated notification block when the job's audio plays on any outcome.
func (b *Builder) Script(j job.Job) (string, error) {
	line, err := b.Base(j)
	if err != nil {
		return "", err
	}
	a := j.Audio
	if !a.Enabled || !(a.PlayOnSuccess || a.PlayOnError) {
		return line, nil
	}
	play := b.NotificationLine(a)
	if play == "" {
		return line, nil
	}
	quiet := "{ " + play + "; } >/dev/null 2>&1 || true"

	var sb strings.Builder
	sb.WriteString(line)
	sb.WriteString("\nEXIT_CODE=$?\n")
	switch {
	case a.PlayOnSuccess && a.PlayOnError:
		sb.WriteString("if [ $EXIT_CODE -eq 0 ]; then\n  " + quiet + "\nelse\n  " + quiet + "\nfi\n")
	case a.PlayOnSuccess:
		sb.WriteString("if [ $EXIT_CODE -eq 0 ]; then\n  " + quiet + "\nfi\n")
	default:
		sb.WriteString("if [ $EXIT_CODE -ne 0 ]; then\n  " + quiet + "\nfi\n")
	}
	sb.WriteString("exit $EXIT_CODE")
	return sb.String(), nil
}

// Argv is the native invocation of a job.
func (b *Builder) Argv(j job.Job) ([]string, error) {
	s, err := b.Script(j)
	if err != nil {
		return nil, err
	}
	return []string{Shell, "-c", s}, nil
}

// BaseArgv is the in-process invocation of a job; notification is played
// separately by the caller.
func (b *Builder) BaseArgv(j job.Job) ([]string, error) {
	s, err := b.Base(j)
	if err != nil {
		return nil, err
	}
	return []string{Shell, "-c", s}, nil
}
