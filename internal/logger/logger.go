// Package logger provides the replication engine's structured console
// logger: leveled, timestamped, colorized when stdout is a terminal.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level is one of the four levels the Configurator accepts for log_level.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel maps the Configurator's log_level string to a Level. Unknown
// values are rejected by config validation before reaching here, so this
// falls back to LevelInfo rather than erroring a second time.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorWarn  = color.New(color.FgYellow)
	colorInfo  = color.New(color.FgCyan)
	colorDebug = color.New(color.FgWhite)
)

func colorFor(l Level) *color.Color {
	switch l {
	case LevelError:
		return colorError
	case LevelWarn:
		return colorWarn
	case LevelDebug:
		return colorDebug
	default:
		return colorInfo
	}
}

// Logger is a leveled console logger; one instance is shared for the whole
// run, built by the Configurator/CLI entry point and passed explicitly to
// every component rather than kept as a package-level global.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
}

// New builds a Logger writing to stderr at the given level.
func New(level Level) *Logger {
	return &Logger{out: os.Stderr, level: level}
}

func (l *Logger) enabled(level Level) bool {
	return level <= l.level
}

func (l *Logger) log(level Level, msg string, fields map[string]string) {
	if !l.enabled(level) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05.000")
	tag := colorFor(level).Sprintf("%-5s", level.String())
	line := fmt.Sprintf("%s %s %s", ts, tag, msg)
	if len(fields) > 0 {
		line += " " + formatFields(fields)
	}
	fmt.Fprintln(l.out, line)
}

func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func (l *Logger) Debug(msg string)                     { l.log(LevelDebug, msg, nil) }
func (l *Logger) Debugf(format string, a ...interface{}) { l.log(LevelDebug, fmt.Sprintf(format, a...), nil) }
func (l *Logger) Info(msg string)                      { l.log(LevelInfo, msg, nil) }
func (l *Logger) Infof(format string, a ...interface{})  { l.log(LevelInfo, fmt.Sprintf(format, a...), nil) }
func (l *Logger) Warn(msg string)                      { l.log(LevelWarn, msg, nil) }
func (l *Logger) Warnf(format string, a ...interface{})  { l.log(LevelWarn, fmt.Sprintf(format, a...), nil) }
func (l *Logger) Error(msg string)                     { l.log(LevelError, msg, nil) }
func (l *Logger) Errorf(format string, a ...interface{}) { l.log(LevelError, fmt.Sprintf(format, a...), nil) }

// WithFields returns a LogContext that attaches fields to every subsequent
// call on it.
func (l *Logger) WithFields(fields map[string]string) *LogContext {
	return &LogContext{logger: l, fields: fields}
}

// LogContext carries a fixed field set across several log calls, e.g. the
// current table name throughout a Sync iteration.
type LogContext struct {
	logger *Logger
	fields map[string]string
}

func (c *LogContext) Debug(msg string) { c.logger.log(LevelDebug, msg, c.fields) }
func (c *LogContext) Info(msg string)  { c.logger.log(LevelInfo, msg, c.fields) }
func (c *LogContext) Warn(msg string)  { c.logger.log(LevelWarn, msg, c.fields) }
func (c *LogContext) Error(msg string) { c.logger.log(LevelError, msg, c.fields) }
