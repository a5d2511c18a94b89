// Package logging provides structured logging for the HTLC engine and its tools.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Level represents a log level.
type Level = log.Level

// Log levels.
const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
	FatalLevel = log.FatalLevel
)

// Logger wraps a charmbracelet logger. Derived loggers share the output and
// level of their parent.
type Logger struct {
	*log.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string
	TimeFormat string
	Prefix     string
	Format     string // "text" (default), "logfmt" or "json"
	Output     io.Writer
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
		Format:     "text",
		Output:     os.Stderr,
	}
}

// New creates a new logger with the given configuration.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	l := log.NewWithOptions(output, log.Options{
		ReportTimestamp: cfg.TimeFormat != "",
		TimeFormat:      cfg.TimeFormat,
		Prefix:          cfg.Prefix,
		Formatter:       parseFormatter(cfg.Format),
	})
	l.SetLevel(ParseLevel(cfg.Level))
	return &Logger{Logger: l}
}

var nop = New(&Config{Level: "fatal", Output: io.Discard})

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return nop
}

func parseFormatter(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// With returns a logger that adds keyvals to every entry.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...)}
}

// Component returns a logger prefixed with name. A nil receiver derives from
// the default logger, so packages can take an optional *Logger in their
// config and call Component on it directly.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		l = GetDefault()
	}
	return &Logger{Logger: l.Logger.WithPrefix(name)}
}

// ForChain tags every entry with the chain symbol and network.
func (l *Logger) ForChain(symbol, network string) *Logger {
	return l.With("symbol", symbol, "network", network)
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(DefaultConfig()))
}

// SetDefault replaces the default logger. It is safe to call while other
// goroutines log.
func SetDefault(l *Logger) {
	if l == nil {
		l = nop
	}
	defaultLogger.Store(l)
}

// GetDefault returns the default logger.
func GetDefault() *Logger {
	return defaultLogger.Load()
}

// Package-level logging through the default logger.

func Debug(msg interface{}, keyvals ...interface{}) { GetDefault().Debug(msg, keyvals...) }
func Info(msg interface{}, keyvals ...interface{})  { GetDefault().Info(msg, keyvals...) }
func Warn(msg interface{}, keyvals ...interface{})  { GetDefault().Warn(msg, keyvals...) }
func Error(msg interface{}, keyvals ...interface{}) { GetDefault().Error(msg, keyvals...) }
