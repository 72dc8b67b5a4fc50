// Package logging provides a thin, verbosity-gated wrapper over the
// standard log package.
package logging

import (
	"log"
	"sync/atomic"
)

// Level controls which lines are emitted. Higher is more verbose.
type Level int32

const (
	LevelInfo Level = iota
	LevelDebug
	LevelTrace
)

var current atomic.Int32

// SetLevel sets the process-wide verbosity level, derived from -v/-vv.
func SetLevel(l Level) { current.Store(int32(l)) }

func enabled(l Level) bool { return Level(current.Load()) >= l }

// Info logs unconditionally (progress, final summary).
func Info(format string, args ...any) { log.Printf("INFO  "+format, args...) }

// Warn logs unconditionally (per-mail skips with reason).
func Warn(format string, args ...any) { log.Printf("WARN  "+format, args...) }

// Error logs unconditionally (fatal, with what was attempted).
func Error(format string, args ...any) { log.Printf("ERROR "+format, args...) }

// Debug logs only at -v or higher.
func Debug(format string, args ...any) {
	if enabled(LevelDebug) {
		log.Printf("DEBUG "+format, args...)
	}
}

// Trace logs only at -vv.
func Trace(format string, args ...any) {
	if enabled(LevelTrace) {
		log.Printf("TRACE "+format, args...)
	}
}
