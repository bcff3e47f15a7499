package crontab

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Table reads and replaces the user's crontab.
type Table interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, content string) error
}

// ExecTable drives the crontab binary.
type ExecTable struct {
	Binary  string
	Timeout time.Duration
}

func (t ExecTable) bin() string {
	if t.Binary == "" {
		return "crontab"
	}
	return t.Binary
}

func (t ExecTable) timeout() time.Duration {
	if t.Timeout <= 0 {
		return 5 * time.Second
	}
	return t.Timeout
}

// Read returns the current table. A user without a crontab reads as empty.
func (t ExecTable) Read(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.bin(), "-l")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(strings.ToLower(msg), "no crontab") {
			return "", nil
		}
		return "", fmt.Errorf("crontab -l: %w: %s", err, msg)
	}
	return stdout.String(), nil
}

// Write installs content through a uniquely named temp file.
func (t ExecTable) Write(ctx context.Context, content string) error {
	f, err := os.CreateTemp("", "cronkeep_sync_*")
	if err != nil {
		return fmt.Errorf("create temp crontab: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp crontab: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp crontab: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()
	out, err := exec.CommandContext(ctx, t.bin(), path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("crontab %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
