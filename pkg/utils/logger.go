package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log line.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLogLevel maps a config value to a level. Unknown names mean info.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Logger is the printf-style logger used throughout vmti.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// sink is the writer shared by a logger and everything derived from it.
type sink struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// DefaultLogger writes one line per message:
//
//	[2024-05-01 12:00:00.000] [INFO] env=1 Granted can_tag_objects
type DefaultLogger struct {
	sink   *sink
	level  LogLevel
	fields string // pre-rendered " k=v" pairs, sorted by key
	keys   map[string]interface{}
}

// NewDefaultLogger creates a logger writing to output.
func NewDefaultLogger(level LogLevel, output io.Writer) *DefaultLogger {
	return &DefaultLogger{
		sink:  &sink{out: output, now: time.Now},
		level: level,
	}
}

// NewFileLogger creates a logger appending to logPath, creating parent directories.
func NewFileLogger(level LogLevel, logPath string) (*DefaultLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return NewDefaultLogger(level, f), nil
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args) }
func (l *DefaultLogger) Info(msg string, args ...interface{}) { l.log(LevelInfo, msg, args) }
func (l *DefaultLogger) Warn(msg string, args ...interface{}) { l.log(LevelWarn, msg, args) }
func (l *DefaultLogger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args) }

// WithField returns a logger that adds key=value to every line.
func (l *DefaultLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger that adds fields to every line. Later values win.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.keys)+len(fields))
	for k, v := range l.keys {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, k := range names {
		fmt.Fprintf(&sb, " %s=%v", k, merged[k])
	}

	return &DefaultLogger{sink: l.sink, level: l.level, fields: sb.String(), keys: merged}
}

func (l *DefaultLogger) log(level LogLevel, msg string, args []interface{}) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("[%s] [%s]%s %s\n",
		l.sink.now().Format("2006-01-02 15:04:05.000"), level, l.fields, fmt.Sprintf(msg, args...))

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	_, _ = io.WriteString(l.sink.out, line)
}

// NullLogger discards everything.
type NullLogger struct{}

func (*NullLogger) Debug(string, ...interface{}) {}
func (*NullLogger) Info(string, ...interface{}) {}
func (*NullLogger) Warn(string, ...interface{}) {}
func (*NullLogger) Error(string, ...interface{}) {}
func (l *NullLogger) WithField(string, interface{}) Logger { return l }
func (l *NullLogger) WithFields(map[string]interface{}) Logger { return l }
