package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
	"golang.org/x/term"
)

type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]LogLevel{
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

var levelColors = map[LogLevel]*color.Color{
	LevelDebug: color.New(color.FgBlue, color.Bold),
	LevelInfo:  color.New(color.FgGreen, color.Bold),
	LevelWarn:  color.New(color.FgYellow, color.Bold),
	LevelError: color.New(color.FgRed, color.Bold),
}

// Logger wraps the standard library logger with basic level filtering and
// colored level prefixes when writing to a terminal.
type Logger struct {
	level    atomic.Int32
	base     *log.Logger
	colorize bool
}

// NewLogger creates a level-aware logger writing to stderr.
func NewLogger(level LogLevel) *Logger {
	l := NewLoggerWithWriter(level, os.Stderr)
	l.colorize = term.IsTerminal(int(os.Stderr.Fd()))
	return l
}

// NewLoggerWithWriter creates a level-aware logger writing to the provided
// destination. Color is disabled for non-terminal writers.
func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	l := &Logger{base: log.New(w, "", log.LstdFlags|log.Lmsgprefix)}
	l.level.Store(int32(level))
	return l
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *Logger) logf(level LogLevel, prefix string, format string, args ...interface{}) {
	if level < LogLevel(l.level.Load()) {
		return
	}
	tag := "[" + strings.ToUpper(prefix) + "]"
	if l.colorize {
		if c, ok := levelColors[level]; ok {
			tag = c.Sprint(tag)
		}
	}
	l.base.Printf("%s %s", tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, "debug", format, args...)
}
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, "info", format, args...)
}
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, "warn", format, args...)
}
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, "error", format, args...)
}

// ParseLogLevel converts a string into a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	if lvl, ok := levelNames[strings.ToLower(s)]; ok {
		return lvl
	}
	return LevelInfo
}
