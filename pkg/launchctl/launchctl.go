package launchctl

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Client shells out to launchctl. Binary defaults to "launchctl".
type Client struct {
	Binary string
}

func (c Client) bin() string {
	if c.Binary == "" {
		return "launchctl"
	}
	return c.Binary
}

func (c Client) run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, c.bin(), args...).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		if s != "" {
			return s, fmt.Errorf("launchctl %s: %w: %s", args[0], err, s)
		}
		return s, fmt.Errorf("launchctl %s: %w", args[0], err)
	}
	return s, nil
}

func (c Client) Load(ctx context.Context, path string) error {
	_, err := c.run(ctx, "load", path)
	return err
}

func (c Client) Unload(ctx context.Context, path string) error {
	_, err := c.run(ctx, "unload", path)
	return err
}

// Loaded reports whether label is known to the user's launchd domain.
func (c Client) Loaded(ctx context.Context, label string) (bool, error) {
	_, err := c.run(ctx, "list", label)
	if err != nil {
		// list exits non-zero for unknown labels
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
