package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"example.com/h2resp/internal/config"
)

// LogFields carries structured context for a log entry.
type LogFields map[string]interface{}

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		switch l {
		case zerolog.DebugLevel:
			return string(config.LogLevelDebug)
		case zerolog.InfoLevel:
			return string(config.LogLevelInfo)
		case zerolog.WarnLevel:
			return string(config.LogLevelWarning)
		case zerolog.ErrorLevel:
			return string(config.LogLevelError)
		default:
			return strings.ToUpper(l.String())
		}
	}
}

// Logger writes structured JSON log entries through zerolog.
// A nil *Logger discards everything.
type Logger struct {
	mu     sync.Mutex
	zl     zerolog.Logger
	output io.WriteCloser
}

// nopCloser keeps standard streams open when the logger is closed.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// NewLogger creates a Logger from cfg. The target is "stdout", "stderr" or
// a file path opened for appending.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	var output io.WriteCloser
	switch cfg.Target {
	case "", "stderr":
		output = nopCloser{os.Stderr}
	case "stdout":
		output = nopCloser{os.Stdout}
	default:
		file, err := os.OpenFile(cfg.Target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Target, err)
		}
		output = file
	}

	return &Logger{
		zl:     newZerolog(output, cfg.LogLevel),
		output: output,
	}, nil
}

// New returns a Logger writing to w at the given level. Closing it does not
// close w.
func New(w io.Writer, level config.LogLevel) *Logger {
	return &Logger{
		zl:     newZerolog(w, level),
		output: nopCloser{w},
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), output: nopCloser{io.Discard}}
}

func newZerolog(w io.Writer, level config.LogLevel) zerolog.Logger {
	return zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()
}

func toZerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) log(level zerolog.Level, msg string, fields LogFields) {
	if l == nil {
		return
	}
	l.mu.Lock()
	zl := l.zl
	l.mu.Unlock()

	e := zl.WithLevel(level)
	if e == nil {
		return // Below the configured level
	}
	if len(fields) > 0 {
		e = e.Fields(map[string]interface{}(fields))
	}
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, fields LogFields) { l.log(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields LogFields)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields LogFields)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields LogFields) { l.log(zerolog.ErrorLevel, msg, fields) }

// CloseLogFiles closes a file target. Standard streams stay open.
func (l *Logger) CloseLogFiles() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.output == nil {
		return nil
	}
	err := l.output.Close()
	l.output = nil
	l.zl = zerolog.Nop()
	return err
}
