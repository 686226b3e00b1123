// Package plog provides the leveled logging used throughout phkv.
//
// It wraps the standard log package with a named prefix and a level filter,
// the same shape the teacher's RPC logger used for its RAFT log sink, just
// without an interface to satisfy a third-party library.
package plog

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is a logging verbosity threshold.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a case-insensitive level name to a Level, defaulting
// to LevelInfo for unrecognized input.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var globalLevel atomic.Int32

func init() {
	globalLevel.Store(int32(LevelInfo))
}

// SetGlobalLevel sets the level applied to every Logger created after the
// call, and to every Logger created before it (the level is read on each
// log call, not captured at construction time).
func SetGlobalLevel(l Level) {
	globalLevel.Store(int32(l))
}

// Logger writes "%-5s | %-16s | %s"-formatted lines for one named component.
type Logger struct {
	name string
	std  *log.Logger
}

// Named creates a Logger prefixed with pkg, e.g. plog.Named("store").
func Named(pkg string) *Logger {
	return &Logger{
		name: pkg,
		std:  log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) log(level Level, levelStr, format string, args ...interface{}) {
	if Level(globalLevel.Load()) > level {
		return
	}
	l.std.Printf("%-5s | %-16s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, "DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, "INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, "WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, "ERROR", format, args...) }
