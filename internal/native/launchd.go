package native

import (
	"context"
	"fmt"
	"path/filepath"

	"howett.net/plist"
)

// Loader is the launchctl surface used by the launchd backend.
type Loader interface {
	Load(ctx context.Context, path string) error
	Unload(ctx context.Context, path string) error
}

// LoadChecker is implemented by loaders that can report whether a label is
// loaded. Unregister skips the unload of labels it reports as absent.
type LoadChecker interface {
	Loaded(ctx context.Context, label string) (bool, error)
}

type launchdAgent struct {
	Label                 string            `plist:"Label"`
	ProgramArguments      []string          `plist:"ProgramArguments"`
	StartCalendarInterval map[string]int    `plist:"StartCalendarInterval"`
	StandardOutPath       string            `plist:"StandardOutPath"`
	StandardErrorPath     string            `plist:"StandardErrorPath"`
	RunAtLoad             bool              `plist:"RunAtLoad"`
	KeepAlive             bool              `plist:"KeepAlive"`
	WorkingDirectory      string            `plist:"WorkingDirectory,omitempty"`
	EnvironmentVariables  map[string]string `plist:"EnvironmentVariables,omitempty"`
}

// Launchd writes user agents as XML property lists.
type Launchd struct {
	dir    string
	prefix string
	loader Loader
}

func NewLaunchd(dir, prefix string, loader Loader) *Launchd {
	if prefix == "" {
		prefix = "com.cronkeep."
	}
	return &Launchd{dir: dir, prefix: prefix, loader: loader}
}

func (l *Launchd) Name() string   { return BackendLaunchd }
func (l *Launchd) Dir() string    { return l.dir }
func (l *Launchd) Prefix() string { return l.prefix }
func (l *Launchd) Ext() string    { return ".plist" }

func (l *Launchd) Files(label string) []string { return []string{label + ".plist"} }

func (l *Launchd) Render(d Descriptor) ([]File, error) {
	agent := launchdAgent{
		Label:                 d.Label,
		ProgramArguments:      d.Argv,
		StartCalendarInterval: calendarDict(d),
		StandardOutPath:       d.StdoutPath,
		StandardErrorPath:     d.StderrPath,
		RunAtLoad:             d.RunAtLoad,
		KeepAlive:             d.KeepAlive,
		WorkingDirectory:      d.WorkingDirectory,
		EnvironmentVariables:  d.Environment,
	}
	data, err := plist.MarshalIndent(agent, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("encode plist %s: %w", d.Label, err)
	}
	return []File{{Name: d.Label + ".plist", Data: data, Mode: 0o644}}, nil
}

func calendarDict(d Descriptor) map[string]int {
	out := map[string]int{}
	iv := d.Interval
	if iv.Minute != nil {
		out["Minute"] = *iv.Minute
	}
	if iv.Hour != nil {
		out["Hour"] = *iv.Hour
	}
	if iv.Day != nil {
		out["Day"] = *iv.Day
	}
	if iv.Month != nil {
		out["Month"] = *iv.Month
	}
	if iv.Weekday != nil {
		out["Weekday"] = *iv.Weekday
	}
	return out
}

func (l *Launchd) Register(ctx context.Context, label string) error {
	return l.loader.Load(ctx, filepath.Join(l.dir, label+".plist"))
}

func (l *Launchd) Unregister(ctx context.Context, label string) error {
	if lc, ok := l.loader.(LoadChecker); ok {
		if loaded, err := lc.Loaded(ctx, label); err == nil && !loaded {
			return nil
		}
	}
	return l.loader.Unload(ctx, filepath.Join(l.dir, label+".plist"))
}
