package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/streambridge/internal/config"
)

// LogFields carries structured key/value context for one log entry.
type LogFields map[string]interface{}

// Logger is a leveled structured logger.
type Logger struct {
	mu     sync.Mutex
	zl     zerolog.Logger
	output io.WriteCloser
	target string
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewLogger creates and configures a new Logger instance.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	var out io.WriteCloser
	switch cfg.Target {
	case "", "stderr":
		out = nopCloser{os.Stderr}
	case "stdout":
		out = nopCloser{os.Stdout}
	default:
		file, err := os.OpenFile(cfg.Target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Target, err)
		}
		out = file
	}

	var w io.Writer = out
	if cfg.Format == config.LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return &Logger{
		zl:     newZerolog(w, cfg.LogLevel),
		output: out,
		target: cfg.Target,
	}, nil
}

// New returns a JSON logger writing to w at the given level.
func New(w io.Writer, level config.LogLevel) *Logger {
	return &Logger{zl: newZerolog(w, level), output: nopCloser{w}}
}

// Nop returns a logger that discards everything.
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
	case config.LogLevelInfo:
		return zerolog.InfoLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields LogFields) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zl: l.zl.With().Fields(map[string]interface{}(fields)).Logger(), output: nopCloser{io.Discard}}
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields LogFields) {
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(map[string]interface{}(fields))
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, fields LogFields) {
	if l != nil {
		l.log(l.zl.Debug(), msg, fields)
	}
}

func (l *Logger) Info(msg string, fields LogFields) {
	if l != nil {
		l.log(l.zl.Info(), msg, fields)
	}
}

func (l *Logger) Warn(msg string, fields LogFields) {
	if l != nil {
		l.log(l.zl.Warn(), msg, fields)
	}
}

func (l *Logger) Error(msg string, fields LogFields) {
	if l != nil {
		l.log(l.zl.Error(), msg, fields)
	}
}

// DebugEnabled reports whether debug entries are written. Hot paths check it
// before building fields.
func (l *Logger) DebugEnabled() bool {
	return l != nil && l.zl.GetLevel() <= zerolog.DebugLevel
}

// CloseLogFiles closes the log file, if the target is one.
func (l *Logger) CloseLogFiles() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.output == nil || !config.IsFilePath(l.target) || l.target == "" {
		return nil
	}
	err := l.output.Close()
	l.output = nil
	return err
}
