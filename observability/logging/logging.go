package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls on-disk log rotation via lumberjack. A zero value
// (Path == "") leaves logging on os.Stdout, which is what every non-daemon
// binary and all tests get.
type RotationConfig struct {
	Path       string // destination file; empty disables rotation
	MaxSizeMB  int    // megabytes before rotation, lumberjack default 100 if 0
	MaxBackups int    // old files retained
	MaxAgeDays int    // days old files are retained
	Compress   bool   // gzip rotated files
}

func (r RotationConfig) writer() io.Writer {
	if strings.TrimSpace(r.Path) == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   r.Path,
		MaxSize:    r.MaxSizeMB,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAgeDays,
		Compress:   r.Compress,
	}
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided. Output goes to
// os.Stdout; use SetupWithRotation to write to a lumberjack-managed rotating
// file instead, as cmd/poold does in production.
func Setup(service, env string) *slog.Logger {
	return SetupWithRotation(service, env, RotationConfig{})
}

// SetupWithRotation is Setup but directs output through rotation.writer(),
// which is os.Stdout when cfg.Path is empty and a *lumberjack.Logger
// otherwise, following the teacher's pattern of keeping local bring-up and
// production log destinations behind one constructor.
func SetupWithRotation(service, env string, cfg RotationConfig) *slog.Logger {
	handler := slog.NewJSONHandler(cfg.writer(), &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
