package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// MaxOutput bounds each captured stream; the tail is kept.
const MaxOutput = 64 << 10

type Options struct {
	Dir     string
	Env     []string // nil inherits the daemon environment
	Timeout time.Duration
}

// Result of one child process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
	// Err is nil only for a zero exit within the timeout.
	Err error
}

func (r Result) OK() bool { return r.Err == nil }

// Run executes argv and waits for it, killing it once the timeout elapses.
func Run(ctx context.Context, argv []string, opt Options) Result {
	if len(argv) == 0 {
		return Result{ExitCode: -1, Err: errors.New("empty argv")}
	}
	if opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opt.Dir
	cmd.Env = opt.Env
	// do not wait forever on grandchildren holding the pipes
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   tail(stdout.Bytes()),
		Stderr:   tail(stderr.Bytes()),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && opt.Timeout > 0:
		res.TimedOut = true
		res.Err = fmt.Errorf("timed out after %s", opt.Timeout)
	default:
		res.Err = err
	}
	return res
}

func tail(b []byte) string {
	if len(b) > MaxOutput {
		b = b[len(b)-MaxOutput:]
	}
	return string(b)
}
