package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSink configures an optional rotating log file next to stdout.
type FileSink struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options tunes Setup.
type Options struct {
	Level  slog.Level
	File   *FileSink
	Output io.Writer
}

// Setup installs a JSON slog logger tagged with service and env as the
// process default and routes the standard log package through it.
func Setup(service, env string) *slog.Logger {
	return SetupWithOptions(service, env, Options{})
}

// SetupWithOptions is Setup with an explicit level, output and file sink.
// Sensitive attribute keys are masked before they reach any sink.
func SetupWithOptions(service, env string, opts Options) *slog.Logger {
	handler := slog.NewJSONHandler(opts.writer(), &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: renameAttr,
	})
	tags := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		tags = append(tags, slog.String("env", env))
	}
	tagged := handler.WithAttrs(tags)

	logger := slog.New(tagged)
	slog.SetDefault(logger)

	log.SetFlags(0)
	log.SetPrefix("")
	log.SetOutput(slog.NewLogLogger(tagged, slog.LevelInfo).Writer())
	return logger
}

func (o Options) writer() io.Writer {
	out := o.Output
	if out == nil {
		out = os.Stdout
	}
	if o.File == nil || strings.TrimSpace(o.File.Path) == "" {
		return out
	}
	return io.MultiWriter(out, &lumberjack.Logger{
		Filename:   o.File.Path,
		MaxSize:    o.File.MaxSizeMB,
		MaxBackups: o.File.MaxBackups,
		MaxAge:     o.File.MaxAgeDays,
		Compress:   o.File.Compress,
	})
}

// renameAttr maps slog's built-in keys onto timestamp/severity/message and
// masks sensitive values.
func renameAttr(_ []string, attr slog.Attr) slog.Attr {
	switch {
	case attr.Key == slog.TimeKey:
		attr.Key = "timestamp"
	case attr.Key == slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case attr.Key == slog.MessageKey:
		attr.Key = "message"
	case IsSensitive(attr.Key):
		return slog.String(attr.Key, MaskValue(attr.Value.String()))
	}
	return attr
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels; anything
// else is info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
