package job

import (
	"errors"
	"fmt"

	"cronkeep/internal/schedule"
)

var (
	ErrInvalidScheduleFormat = schedule.ErrInvalidScheduleFormat

	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateID  = errors.New("job id already exists")
	ErrInvalidJobID = errors.New("invalid job id")
	ErrInvalidJob   = errors.New("invalid job")

	// ErrInvalidCommand is returned for commands a shell could not split.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrPersistence wraps every registry read/write failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrCommandExecution marks a run that exited non-zero or timed out.
	ErrCommandExecution = errors.New("command execution failed")

	// ErrNotification marks a failed sound/TTS/file playback.
	ErrNotification = errors.New("notification failed")
)

// RegistrationError is an OS scheduler failure for one native descriptor.
type RegistrationError struct {
	Label string
	Op    string
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Label, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
