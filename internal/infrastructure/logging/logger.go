package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/heatbridge/internal/infrastructure/config"
)

// Logger is the bridge-wide structured logger, an slog.Logger carrying
// the service and version fields on every record. Safe for concurrent
// use; components narrow it to their own small Logger interfaces.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging config section. Format is json
// unless "text" is configured, output goes to stdout unless "stderr"
// is configured, and unknown levels fall back to info.
func New(cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	output := pickOutput(cfg.Output)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "heatbridge"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// With returns a child logger carrying additional default attributes,
// typically a component name.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the bootstrap logger used before configuration loads:
// json to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

func pickOutput(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

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
