package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	serviceName    = "snapdog"
	defaultLogFile = "./logs/snapdog.log"
)

// Logger is the hub's structured logger. Every record carries the service
// name and build version; component loggers add a "component" attribute.
//
// Loggers derived with With or Component share the level of their root,
// so SetLevel on any of them applies to all.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds the root logger from the logging section of the config.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newWithWriter(cfg, version, writer(cfg))
}

func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler), level: level}
}

func writer(cfg config.LoggingConfig) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr
	case "file":
		return rotatingFile(cfg.File)
	case "both":
		return io.MultiWriter(os.Stdout, rotatingFile(cfg.File))
	default:
		return os.Stdout
	}
}

func rotatingFile(cfg config.FileLoggingConfig) *lumberjack.Logger {
	path := cfg.Path
	if path == "" {
		path = defaultLogFile
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// parseLevel maps debug, info, warn and error; anything else is info.
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

// With returns a child logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Component returns a child logger tagged component=name, e.g. "snapcast"
// or "mqtt-bridge".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// SetLevel changes the minimum level at runtime. Unknown names select info.
func (l *Logger) SetLevel(level string) {
	if l.level != nil {
		l.level.Set(parseLevel(level))
	}
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	if l.level == nil {
		return slog.LevelInfo
	}
	return l.level.Level()
}

// Default is the bootstrap logger used until the config has been read:
// JSON on stdout at info.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
