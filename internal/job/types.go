package job

import (
	"time"

	"cronkeep/internal/schedule"
)

type RunMode string

const (
	RunBackground RunMode = "background"
	RunTerminal   RunMode = "terminal"
)

type AudioType string

const (
	AudioSystem AudioType = "system"
	AudioTTS    AudioType = "tts"
	AudioFile   AudioType = "file"
	AudioNone   AudioType = "none"
)

// AudioConfig is the post-run notification attached to a job.
type AudioConfig struct {
	Enabled       bool      `json:"enabled"`
	Type          AudioType `json:"type"`
	SystemSound   string    `json:"systemSound,omitempty"`
	TTSText       string    `json:"ttsText,omitempty"`
	AudioFilePath string    `json:"audioFilePath,omitempty"`
	PlayOnSuccess bool      `json:"playOnSuccess"`
	PlayOnError   bool      `json:"playOnError"`
}

// Plays reports whether a run with the given outcome should notify.
func (a AudioConfig) Plays(success bool) bool {
	if !a.Enabled || a.Type == AudioNone || a.Type == "" {
		return false
	}
	if success {
		return a.PlayOnSuccess
	}
	return a.PlayOnError
}

// DefaultAudio is applied to jobs stored before audio notifications existed.
func DefaultAudio() AudioConfig {
	return AudioConfig{
		Enabled:       false,
		Type:          AudioSystem,
		SystemSound:   "Glass",
		TTSText:       "Job completed",
		PlayOnSuccess: true,
		PlayOnError:   true,
	}
}

// SystemSounds lists the sounds offered for AudioSystem.
var SystemSounds = []string{
	"Glass", "Ping", "Pop", "Purr", "Sosumi", "Submarine", "Tink",
	"Basso", "Blow", "Bottle", "Frog", "Funk", "Hero", "Morse",
}

// Job is a named recurring command.
//
// Schedule is kept in its canonical 5-field text form; LastRun and NextRun
// are written by the scheduler only.
type Job struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Command     string      `json:"command"`
	Schedule    string      `json:"schedule"`
	Enabled     bool        `json:"enabled"`
	RunMode     RunMode     `json:"runMode"`
	Audio       AudioConfig `json:"audioNotification"`
	LastRun     *time.Time  `json:"lastRun,omitempty"`
	NextRun     *time.Time  `json:"nextRun,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Expression parses the job schedule.
func (j Job) Expression() (schedule.Expression, error) {
	return schedule.Parse(j.Schedule)
}

// Clone returns a copy that shares no pointers with j.
func (j Job) Clone() Job {
	cp := j
	cp.LastRun = cloneTime(j.LastRun)
	cp.NextRun = cloneTime(j.NextRun)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name        *string      `json:"name,omitempty"`
	Command     *string      `json:"command,omitempty"`
	Schedule    *string      `json:"schedule,omitempty"`
	Enabled     *bool        `json:"enabled,omitempty"`
	RunMode     *RunMode     `json:"runMode,omitempty"`
	Audio       *AudioConfig `json:"audioNotification,omitempty"`
	Description *string      `json:"description,omitempty"`
}

// Apply copies the set fields of p onto j.
func (p Patch) Apply(j *Job) {
	if p.Name != nil {
		j.Name = *p.Name
	}
	if p.Command != nil {
		j.Command = *p.Command
	}
	if p.Schedule != nil {
		j.Schedule = *p.Schedule
	}
	if p.Enabled != nil {
		j.Enabled = *p.Enabled
	}
	if p.RunMode != nil {
		j.RunMode = *p.RunMode
	}
	if p.Audio != nil {
		j.Audio = *p.Audio
	}
	if p.Description != nil {
		j.Description = *p.Description
	}
}

// RescheduleNeeded reports whether applying p changes what the schedulers
// have registered for the job.
func (p Patch) RescheduleNeeded() bool {
	return p.Command != nil || p.Schedule != nil || p.Enabled != nil || p.RunMode != nil || p.Audio != nil
}

type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ExecutionLog records one scheduled run. Duration is in milliseconds.
type ExecutionLog struct {
	ID        string     `json:"id"`
	JobID     string     `json:"jobId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Status    Status     `json:"status"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Duration  int64      `json:"duration,omitempty"`
}
