// Package logging provides the leveled, structured logging sink used across
// the logic-core daemon and its shared library.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format selects "text" (default) or "json" output.
	Format string
	Output io.Writer
	// Sync is accepted for callers but not read by NewLogger; output is
	// written to Output as each call is made.
	Sync bool
	// NoColor disables ANSI color codes in text output (daemonized
	// processes have no tty to color for).
	NoColor bool
}

// DefaultConfig returns a sensible default configuration: INFO level,
// text format, stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps a logrus.Entry with the project's leveled convenience API.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a new logger from the given configuration.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	base := logrus.New()
	base.SetOutput(output)
	base.SetLevel(config.Level.logrusLevel())

	if config.Format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			DisableColors:          config.NoColor,
			FullTimestamp:          true,
			DisableLevelTruncation: true,
		})
	}

	return &Logger{entry: logrus.NewEntry(base)}
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the process-wide default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func fieldsFromArgs(args []any) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}

func (l *Logger) with(args []any) *logrus.Entry {
	if len(args) == 0 {
		return l.entry
	}
	return l.entry.WithFields(fieldsFromArgs(args))
}

func (l *Logger) Debug(msg string, args ...any) { l.with(args).Debug(msg) }
func (l *Logger) Info(msg string, args ...any)  { l.with(args).Info(msg) }
func (l *Logger) Warn(msg string, args ...any)  { l.with(args).Warn(msg) }
func (l *Logger) Error(msg string, args ...any) { l.with(args).Error(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// Printf satisfies simple Logger interfaces (io adapters, cobra) that only
// know how to format a string.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// WithBoard scopes subsequent log calls to a board tag (C6's serial worker).
func (l *Logger) WithBoard(tag string) *Logger {
	return &Logger{entry: l.entry.WithField("board", tag)}
}

// WithConn scopes subsequent log calls to a connection ID (C8).
func (l *Logger) WithConn(connID string) *Logger {
	return &Logger{entry: l.entry.WithField("conn_id", connID)}
}

// WithRequest scopes subsequent log calls to a protocol message sequence
// number and type (C7/C9).
func (l *Logger) WithRequest(seq uint64, msgType string) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields{"seq": seq, "type": msgType})}
}

// WithError attaches an error to subsequent log calls.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
