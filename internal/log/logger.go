package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LevelCritical sits above slog.LevelError for unrecoverable conditions.
const LevelCritical = slog.LevelError + 4

var (
	mu     sync.Mutex
	logger *slog.Logger
)

// levels maps the accepted --log-level names onto slog levels.
var levels = map[string]slog.Level{
	"debug":    slog.LevelDebug,
	"info":     slog.LevelInfo,
	"warning":  slog.LevelWarn,
	"error":    slog.LevelError,
	"critical": LevelCritical,
}

// LevelNames returns the accepted level names, most verbose first.
func LevelNames() []string {
	return []string{"debug", "info", "warning", "error", "critical"}
}

// ParseLevel converts a level name (case-insensitive) to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	l, ok := levels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (valid: %s)", name, strings.Join(LevelNames(), ", "))
	}
	return l, nil
}

// Setup (re)initializes the global logger writing to w.
// format is "text" or "json"; anything else falls back to text.
// An invalid level falls back to INFO.
func Setup(level, format string, w io.Writer) {
	l, err := ParseLevel(level)
	if err != nil {
		l = slog.LevelInfo
	}
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       l,
		ReplaceAttr: replaceAttr(format),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	logger = slog.New(handler)
	mu.Unlock()
	slog.SetDefault(logger)
}

// replaceAttr renames levels to WARNING/CRITICAL and drops the timestamp in text mode.
func replaceAttr(format string) func([]string, slog.Attr) slog.Attr {
	dropTime := !strings.EqualFold(format, "json")
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			if dropTime {
				return slog.Attr{}
			}
		case slog.LevelKey:
			lvl, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			switch {
			case lvl >= LevelCritical:
				a.Value = slog.StringValue("CRITICAL")
			case lvl == slog.LevelWarn:
				a.Value = slog.StringValue("WARNING")
			}
		}
		return a
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		Setup("info", "text", os.Stderr)
		mu.Lock()
		l = logger
		mu.Unlock()
	}
	return l
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithPlugin returns a logger with the plugin field set.
func WithPlugin(name string) *slog.Logger {
	return Get().With(slog.String("plugin", name))
}

// WithRun returns a logger with the run_id field set.
func WithRun(id string) *slog.Logger {
	return Get().With(slog.String("run_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARNING level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
