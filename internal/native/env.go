package native

import (
	"os"
)

// DefaultPath is used when the daemon itself has no PATH.
const DefaultPath = "/opt/homebrew/bin:/usr/local/bin:/usr/bin:/bin"

// Environment builds the variables handed to descriptors: PATH, HOME and
// SHELL from the current process (with defaults), then extra on top.
func Environment(home, shell string, extra map[string]string) map[string]string {
	path := os.Getenv("PATH")
	if path == "" {
		path = DefaultPath
	}
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}
	env := map[string]string{
		"PATH":  path,
		"HOME":  home,
		"SHELL": shell,
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}
