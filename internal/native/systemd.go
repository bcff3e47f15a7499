package native

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/coreos/go-systemd/v22/unit"
)

// TimerBus is the systemd user bus surface used by the systemd backend.
type TimerBus interface {
	Register(ctx context.Context, timer string) error
	Unregister(ctx context.Context, timer string) error
}

// Systemd writes a oneshot service, its timer and the wrapper script.
type Systemd struct {
	dir    string
	prefix string
	bus    TimerBus
}

func NewSystemd(dir, prefix string, bus TimerBus) *Systemd {
	if prefix == "" {
		prefix = "cronkeep-"
	}
	return &Systemd{dir: dir, prefix: prefix, bus: bus}
}

func (s *Systemd) Name() string   { return BackendSystemd }
func (s *Systemd) Dir() string    { return s.dir }
func (s *Systemd) Prefix() string { return s.prefix }
func (s *Systemd) Ext() string    { return ".timer" }

func (s *Systemd) Files(label string) []string {
	return []string{label + ".timer", label + ".service", label + ".sh"}
}

func (s *Systemd) Render(d Descriptor) ([]File, error) {
	if len(d.Argv) != 3 {
		return nil, fmt.Errorf("render %s: want [shell -c script], got %d args", d.Label, len(d.Argv))
	}
	scriptPath := filepath.Join(s.dir, d.Label+".sh")
	script := "#!" + d.Argv[0] + "\n" + d.Argv[2] + "\n"

	svc := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "cronkeep job "+d.JobID),
		unit.NewUnitOption("Service", "Type", "oneshot"),
		unit.NewUnitOption("Service", "ExecStart", d.Argv[0]+" "+scriptPath),
	}
	if d.WorkingDirectory != "" {
		svc = append(svc, unit.NewUnitOption("Service", "WorkingDirectory", d.WorkingDirectory))
	}
	keys := make([]string, 0, len(d.Environment))
	for k := range d.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		svc = append(svc, unit.NewUnitOption("Service", "Environment", strconv.Quote(k+"="+d.Environment[k])))
	}
	if d.StdoutPath != "" {
		svc = append(svc, unit.NewUnitOption("Service", "StandardOutput", "append:"+d.StdoutPath))
	}
	if d.StderrPath != "" {
		svc = append(svc, unit.NewUnitOption("Service", "StandardError", "append:"+d.StderrPath))
	}

	tmr := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "cronkeep timer "+d.Label),
		unit.NewUnitOption("Timer", "OnCalendar", OnCalendar(d.Interval)),
		unit.NewUnitOption("Timer", "Unit", d.Label+".service"),
		unit.NewUnitOption("Timer", "Persistent", strconv.FormatBool(d.RunAtLoad)),
		unit.NewUnitOption("Install", "WantedBy", "timers.target"),
	}

	svcData, err := io.ReadAll(unit.Serialize(svc))
	if err != nil {
		return nil, fmt.Errorf("serialize service %s: %w", d.Label, err)
	}
	tmrData, err := io.ReadAll(unit.Serialize(tmr))
	if err != nil {
		return nil, fmt.Errorf("serialize timer %s: %w", d.Label, err)
	}
	return []File{
		{Name: d.Label + ".sh", Data: []byte(script), Mode: 0o755},
		{Name: d.Label + ".service", Data: svcData, Mode: 0o644},
		{Name: d.Label + ".timer", Data: tmrData, Mode: 0o644},
	}, nil
}

func (s *Systemd) Register(ctx context.Context, label string) error {
	return s.bus.Register(ctx, label+".timer")
}

func (s *Systemd) Unregister(ctx context.Context, label string) error {
	return s.bus.Unregister(ctx, label+".timer")
}
