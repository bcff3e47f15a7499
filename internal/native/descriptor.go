package native

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"cronkeep/internal/schedule"
)

// Descriptor is one OS-scheduler entry for one calendar interval of a job.
type Descriptor struct {
	Label            string
	JobID            string
	Index            int // -1 for single-interval jobs
	Argv             []string
	Interval         schedule.Interval
	StdoutPath       string
	StderrPath       string
	WorkingDirectory string
	Environment      map[string]string
	RunAtLoad        bool
	KeepAlive        bool
}

// Label returns "<prefix><id>" or "<prefix><id>.<index>".
func Label(prefix, jobID string, index int) string {
	if index < 0 {
		return prefix + jobID
	}
	return prefix + jobID + "." + strconv.Itoa(index)
}

// JobIDOf extracts the job id from a label carrying prefix.
func JobIDOf(prefix, label string) (string, bool) {
	rest, ok := strings.CutPrefix(label, prefix)
	if !ok || rest == "" {
		return "", false
	}
	id, suffix, dotted := strings.Cut(rest, ".")
	if id == "" {
		return "", false
	}
	if dotted && !isDigits(suffix) {
		return "", false
	}
	return id, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func logPaths(dir, jobID string, index int) (string, string) {
	base := jobID
	if index >= 0 {
		base = fmt.Sprintf("%s.%d", jobID, index)
	}
	return filepath.Join(dir, base+".log"), filepath.Join(dir, base+".error.log")
}
