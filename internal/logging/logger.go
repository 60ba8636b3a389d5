// Package logging provides the logger used by treekv engines and tools.
//
// The interface has five levels (Error, Warn, Info, Debug, Fatal). Callers
// that already run a structured logger can wrap it behind Logger.
//
// Fatalf logs at FATAL level and then runs the configured FatalHandler. The
// default handler does nothing and Fatalf never exits the process; the
// caller that reports a fatal condition is responsible for stopping writes.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2026/03/02 10:14:09 WARN [recovery] truncating torn commit log tail at offset 65536
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
)

// FatalHandler is called with the formatted message after Fatalf logs it.
// It must be safe for concurrent use and must not call Fatalf.
type FatalHandler func(msg string)

// Level is a logging verbosity level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything.
	LevelDebug
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name such as "warn" or "DEBUG" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LevelError, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "INFO", "":
		return LevelInfo, nil
	case "DEBUG":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

// Logger is the logging interface used throughout treekv.
//
// Implementations must be safe for concurrent use.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)

	// Fatalf logs a condition after which the caller stops accepting
	// writes. Reads keep working.
	Fatalf(format string, args ...any)
}

// DefaultLogger writes leveled lines through a standard library log.Logger.
// Its level is fixed at construction.
type DefaultLogger struct {
	logger       *log.Logger
	level        Level
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewDefaultLogger returns a logger writing to stderr at the given level.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// NewLogger returns a logger writing to w at the given level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// SetFatalHandler installs the handler run by Fatalf.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

// Level returns the configured level.
func (l *DefaultLogger) Level() Level {
	return l.level
}

func (l *DefaultLogger) output(level Level, format string, args []any) {
	if l.level < level {
		return
	}
	_ = l.logger.Output(3, level.String()+" "+fmt.Sprintf(format, args...))
}

// Errorf logs at ERROR level.
func (l *DefaultLogger) Errorf(format string, args ...any) { l.output(LevelError, format, args) }

// Warnf logs at WARN level.
func (l *DefaultLogger) Warnf(format string, args ...any) { l.output(LevelWarn, format, args) }

// Infof logs at INFO level.
func (l *DefaultLogger) Infof(format string, args ...any) { l.output(LevelInfo, format, args) }

// Debugf logs at DEBUG level.
func (l *DefaultLogger) Debugf(format string, args ...any) { l.output(LevelDebug, format, args) }

// Fatalf always logs, regardless of level, then runs the fatal handler.
func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_ = l.logger.Output(2, "FATAL "+msg)
	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

// Component prefixes. Prepend them to the format string.
const (
	// NSStore is used by the log-structured tree store.
	NSStore = "[store] "
	// NSEngine is used by engine handles and backends.
	NSEngine = "[engine] "
	// NSRecovery is used while replaying the commit log.
	NSRecovery = "[recovery] "
	// NSSST is used by the SST writer and reader.
	NSSST = "[sst] "
	// NSIngest is used by SST ingestion.
	NSIngest = "[ingest] "
)

// IsNil reports whether l is nil or an interface holding a nil pointer.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns l, or a WARN level stderr logger when l is nil.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
