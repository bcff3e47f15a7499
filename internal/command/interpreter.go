package command

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Interpreter resolves the interpreter used to prefix bare commands.
//
// Resolution runs once: PATH lookup, then each candidate path that exists
// and answers "--version" within the version timeout, then the bare name.
type Interpreter struct {
	Name       string
	Candidates []string
	Timeout    time.Duration

	// lookPath and verify are replaced in tests.
	lookPath func(string) (string, error)
	verify   func(ctx context.Context, path string) error

	once sync.Once
	path string
}

// DarwinCandidates are checked when the interpreter is not on PATH.
var DarwinCandidates = []string{
	"/opt/homebrew/bin/python3",
	"/opt/homebrew/bin/python3.11",
	"/opt/homebrew/bin/python3.10",
	"/opt/homebrew/bin/python3.9",
	"/usr/local/bin/python3",
	"/usr/local/bin/python3.11",
	"/usr/local/bin/python3.10",
	"/usr/local/bin/python3.9",
	"/usr/bin/python3",
	"/Library/Frameworks/Python.framework/Versions/3.11/bin/python3",
	"/Library/Frameworks/Python.framework/Versions/3.10/bin/python3",
	"/Library/Frameworks/Python.framework/Versions/3.9/bin/python3",
	"/opt/homebrew/opt/python@3.11/bin/python3",
	"/opt/homebrew/opt/python@3.10/bin/python3",
	"/opt/homebrew/opt/python@3.9/bin/python3",
}

// LinuxCandidates are checked when the interpreter is not on PATH.
var LinuxCandidates = []string{
	"/usr/local/bin/python3",
	"/usr/bin/python3",
	"/bin/python3",
}

// CandidatesFor returns the built-in search list for goos.
func CandidatesFor(goos string) []string {
	switch goos {
	case "darwin":
		return DarwinCandidates
	case "linux":
		return LinuxCandidates
	default:
		return nil
	}
}

func NewInterpreter(name string, candidates []string) *Interpreter {
	if name == "" {
		name = "python3"
	}
	return &Interpreter{
		Name:       name,
		Candidates: candidates,
		Timeout:    2 * time.Second,
		lookPath:   exec.LookPath,
		verify:     checkVersion,
	}
}

// Fixed returns an interpreter that always resolves to path.
func Fixed(path string) *Interpreter {
	in := &Interpreter{Name: path, path: path}
	in.once.Do(func() {})
	return in
}

// Path returns the resolved interpreter.
func (in *Interpreter) Path() string {
	in.once.Do(func() { in.path = in.resolve() })
	return in.path
}

func (in *Interpreter) resolve() string {
	if in.lookPath != nil {
		if p, err := in.lookPath(in.Name); err == nil && p != "" {
			return p
		}
	}
	for _, c := range in.Candidates {
		if _, err := os.Stat(c); err != nil {
			continue
		}
		if in.verify == nil {
			return c
		}
		ctx, cancel := context.WithTimeout(context.Background(), in.Timeout)
		err := in.verify(ctx, c)
		cancel()
		if err == nil {
			return c
		}
	}
	return in.Name
}

func checkVersion(ctx context.Context, path string) error {
	return exec.CommandContext(ctx, path, "--version").Run()
}
