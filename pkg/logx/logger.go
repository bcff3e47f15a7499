package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Logger writes structured lines. The zero value discards everything.
// Loggers obtained from a Service follow its Apply calls.
type Logger struct {
	svc    *Service
	fixed  *zerolog.Logger
	fields []Field
	sample *Sampler
}

// Nop discards everything but, unlike the zero value, is not IsZero.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{fixed: &zl}
}

// NewWriter logs JSON lines to w at level.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level, LevelDebug)).With().Timestamp().Logger()
	return Logger{fixed: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.fixed == nil && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.fixed != nil:
		return *l.fixed
	}
	return zerolog.Nop()
}

func (l Logger) Enabled(level Level) bool {
	zl := l.zl()
	return level >= zl.GetLevel()
}

// With returns a logger that adds fields to every line.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

// Sampled returns a logger whose lines are subject to s.
func (l Logger) Sampled(s *Sampler) Logger {
	l.sample = s
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.write(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

func (l Logger) write(level Level, msg string, fields []Field) {
	zl := l.zl()
	if level < zl.GetLevel() || !l.sample.allow() {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, set := range [][]Field{l.fields, fields} {
		for _, f := range set {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

// Sampler caps the rate of lines across every logger sharing it.
type Sampler struct {
	lim     *rate.Limiter
	dropped atomic.Uint64
}

func NewSampler(perSec float64, burst int) *Sampler {
	if perSec <= 0 {
		perSec = 1
	}
	return &Sampler{lim: rate.NewLimiter(rate.Limit(perSec), max(burst, 1))}
}

func (s *Sampler) allow() bool {
	if s == nil || s.lim.Allow() {
		return true
	}
	s.dropped.Add(1)
	return false
}

// Dropped is the number of lines suppressed so far.
func (s *Sampler) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}
