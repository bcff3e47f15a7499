package native

import (
	"context"
	"os"
	"runtime"
	"strings"
)

// File is one on-disk artifact of a descriptor.
type File struct {
	Name string
	Data []byte
	Mode os.FileMode
}

// Backend renders descriptors into a host scheduler's file format and
// registers them with it.
type Backend interface {
	Name() string
	Dir() string
	Prefix() string
	// Ext is the extension of the file that identifies a label on disk.
	Ext() string
	Render(d Descriptor) ([]File, error)
	// Files lists every file name a label may own, rendered or not.
	Files(label string) []string
	Register(ctx context.Context, label string) error
	Unregister(ctx context.Context, label string) error
}

const (
	BackendAuto    = "auto"
	BackendLaunchd = "launchd"
	BackendSystemd = "systemd"
	BackendNone    = "none"
)

// Resolve maps "auto" and "" to the backend native to goos.
func Resolve(name, goos string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" && name != BackendAuto {
		return name
	}
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "darwin":
		return BackendLaunchd
	case "linux":
		return BackendSystemd
	default:
		return BackendNone
	}
}
