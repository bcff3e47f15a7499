package job

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"cronkeep/internal/schedule"
)

// Ids end up in file names and labels as "<prefix><id>[.<n>]", so dots and
// path separators are not allowed.
var reJobID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NewID returns a fresh job id.
func NewID() string { return uuid.NewString() }

func ValidID(id string) bool { return reJobID.MatchString(id) }

// Normalize fills defaults, canonicalizes the schedule and validates j.
func Normalize(j *Job) error {
	j.ID = strings.TrimSpace(j.ID)
	if !ValidID(j.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, j.ID)
	}
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidJob)
	}
	if strings.TrimSpace(j.Command) == "" {
		return fmt.Errorf("%w: command required", ErrInvalidJob)
	}
	sched, err := schedule.Normalize(j.Schedule)
	if err != nil {
		return err
	}
	j.Schedule = sched

	switch j.RunMode {
	case "":
		j.RunMode = RunBackground
	case RunBackground, RunTerminal:
	default:
		return fmt.Errorf("%w: unknown run mode %q", ErrInvalidJob, j.RunMode)
	}

	switch j.Audio.Type {
	case "":
		j.Audio.Type = AudioSystem
	case AudioSystem, AudioTTS, AudioFile, AudioNone:
	default:
		return fmt.Errorf("%w: unknown audio type %q", ErrInvalidJob, j.Audio.Type)
	}
	if j.Audio.Enabled {
		switch j.Audio.Type {
		case AudioSystem:
			if j.Audio.SystemSound == "" {
				j.Audio.SystemSound = "Glass"
			}
		case AudioTTS:
			if strings.TrimSpace(j.Audio.TTSText) == "" {
				j.Audio.TTSText = "Job completed"
			}
		case AudioFile:
			if strings.TrimSpace(j.Audio.AudioFilePath) == "" {
				return fmt.Errorf("%w: audio file path required", ErrInvalidJob)
			}
		}
	}
	return nil
}
