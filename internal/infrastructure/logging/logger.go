package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/config"
)

// ServiceName is attached to every log entry as the service field.
const ServiceName = "graymon"

// Logger wraps slog.Logger with the monitor's default fields.
//
// It satisfies the small Logger interfaces declared by the core packages
// (cache, rule, supervision, command, monitor), so one value is threaded
// through the whole process.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging configuration.
//
// Output "stdout" (default) and "stderr" write to the process streams.
// Output "file" appends to cfg.File.Path, creating its directory; if the
// file cannot be opened the logger falls back to stderr and says so.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	var openErr error
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "file":
		output, openErr = openFile(cfg.File.Path)
		if openErr != nil {
			output = os.Stderr
		}
	default:
		output = os.Stdout
	}

	l := NewWithWriter(cfg, version, output)
	if openErr != nil {
		l.Warn("log file unavailable, logging to stderr", "path", cfg.File.Path, "error", openErr)
	}
	return l
}

// NewWithWriter creates a Logger writing to w with the configured format
// and level.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

func openFile(path string) (io.Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("logging.file.path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// parseLevel converts a string log level to slog.Level.
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with the component name.
//
//	rules := logger.Component("rule")
//	rules.Info("rule engine started") // includes component=rule
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a logger for use before configuration is loaded:
// JSON on stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Discard returns a logger that drops everything. Tests use it where the
// output is irrelevant.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
