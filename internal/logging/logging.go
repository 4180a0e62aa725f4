package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var (
	currentLevel LogLevel
	levelOnce    sync.Once

	loggerMu sync.RWMutex
	logger   = newLogger(os.Stderr)
)

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006/01/02 15:04:05",
		NoColor:    true,
	}).With().Timestamp().Logger()
}

// initLevel initializes the log level from environment variables
func initLevel() {
	levelOnce.Do(func() {
		currentLevel = levelFromEnv()
	})
}

func levelFromEnv() LogLevel {
	if debug := os.Getenv("DEBUG"); debug != "" {
		switch strings.ToLower(debug) {
		case "1", "true", "yes", "on":
			return LevelDebug
		}
	}
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel maps a level name to a LogLevel. Unknown names map to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// SetOutput redirects log output. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(w)
}

// SetLevel overrides the level read from the environment.
func SetLevel(level LogLevel) {
	initLevel()
	loggerMu.Lock()
	defer loggerMu.Unlock()
	currentLevel = level
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLevel()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return currentLevel
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func emit(level LogLevel, ev func(zerolog.Logger) *zerolog.Event, format string, args []interface{}) {
	if GetLevel() > level {
		return
	}
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	ev(l).Msgf(format, args...)
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) {
	emit(LevelDebug, func(l zerolog.Logger) *zerolog.Event { return l.Debug() }, format, args)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	emit(LevelInfo, func(l zerolog.Logger) *zerolog.Event { return l.Info() }, format, args)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	emit(LevelWarn, func(l zerolog.Logger) *zerolog.Event { return l.Warn() }, format, args)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	emit(LevelError, func(l zerolog.Logger) *zerolog.Event { return l.Error() }, format, args)
}

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	l.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	os.Exit(1)
}

// Access writes a pre-formatted access log line regardless of level.
func Access(line string) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	l.Log().Str("kind", "access").Msg(line)
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}
