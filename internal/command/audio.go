package command

import (
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	"cronkeep/internal/job"
)

// linuxSounds maps the macOS sound names to freedesktop theme events.
var linuxSounds = map[string]string{
	"Glass":     "complete",
	"Hero":      "complete",
	"Ping":      "message",
	"Pop":       "message",
	"Tink":      "message",
	"Basso":     "dialog-error",
	"Funk":      "dialog-warning",
	"Sosumi":    "dialog-warning",
	"Submarine": "bell",
}

// NotificationLine returns the shell line that plays a, or "" when the
// config has nothing to play.
func (b *Builder) NotificationLine(a job.AudioConfig) string {
	switch a.Type {
	case job.AudioSystem:
		name := a.SystemSound
		if name == "" {
			name = "Glass"
		}
		if b.GOOS == "darwin" {
			return shellquote.Join("afplay", "/System/Library/Sounds/"+name+".aiff")
		}
		ev, ok := linuxSounds[name]
		if !ok {
			ev = "complete"
		}
		return shellquote.Join("paplay", "/usr/share/sounds/freedesktop/stereo/"+ev+".oga")
	case job.AudioTTS:
		text := strings.TrimSpace(a.TTSText)
		if text == "" {
			text = "Job completed"
		}
		if b.GOOS == "darwin" {
			voice := b.Voice
			if voice == "" {
				voice = "Linh"
			}
			return shellquote.Join("say", "-v", voice, text) + " 2>/dev/null || " + shellquote.Join("say", text)
		}
		return shellquote.Join("spd-say", text) + " 2>/dev/null || " + shellquote.Join("espeak", text)
	case job.AudioFile:
		if strings.TrimSpace(a.AudioFilePath) == "" {
			return ""
		}
		if b.GOOS == "darwin" {
			return shellquote.Join("afplay", a.AudioFilePath)
		}
		return shellquote.Join("paplay", a.AudioFilePath)
	default:
		return ""
	}
}
