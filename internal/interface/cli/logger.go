package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/infra/fs"
)

// LogLevel orders log messages by severity
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var levelTags = [...]struct {
	name  string
	color *color.Color
}{
	LogLevelDebug: {"DEBUG", color.New(color.FgHiBlack)},
	LogLevelInfo:  {"INFO", color.New(color.FgCyan)},
	LogLevelWarn:  {"WARN", color.New(color.FgYellow)},
	LogLevelError: {"ERROR", color.New(color.FgRed, color.Bold)},
}

// Logger writes "LEVEL: message" lines at or above a minimum level. It satisfies the
// logger interfaces of the coordinator and the fs layer, so one instance serves all.
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	out   io.Writer
}

func NewLogger(level LogLevel, out io.Writer) *Logger {
	return &Logger{level: level, out: out}
}

// SetOutput redirects subsequent lines
func (l *Logger) SetOutput(out io.Writer) {
	l.mu.Lock()
	l.out = out
	l.mu.Unlock()
}

func (l *Logger) Debug(format string, args ...interface{}) { l.logf(LogLevelDebug, format, args) }
func (l *Logger) Info(format string, args ...interface{})  { l.logf(LogLevelInfo, format, args) }
func (l *Logger) Warn(format string, args ...interface{})  { l.logf(LogLevelWarn, format, args) }
func (l *Logger) Error(format string, args ...interface{}) { l.logf(LogLevelError, format, args) }

func (l *Logger) logf(level LogLevel, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	tag := levelTags[level]
	fmt.Fprintf(l.out, "%s: %s\n", tag.color.Sprint(tag.name), fmt.Sprintf(format, args...))
}

// LogLevelFromString parses a level name; anything unknown means warn.
func LogLevelFromString(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "error":
		return LogLevelError
	default:
		return LogLevelWarn
	}
}

var std = NewLogger(LogLevelWarn, os.Stderr)

// configureLogging replaces the process logger and hands it to the coordinator and
// the file device layer.
func configureLogging(level string, out io.Writer) *Logger {
	std = NewLogger(LogLevelFromString(level), out)
	distxn.SetLogger(std)
	fs.SetLogger(std)
	return std
}

func Debug(format string, args ...interface{}) { std.Debug(format, args...) }
func Info(format string, args ...interface{})  { std.Info(format, args...) }
func Warn(format string, args ...interface{})  { std.Warn(format, args...) }
