package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls how Setup builds the process-wide logger.
type Config struct {
	// Level is the minimum level that reaches the handler: debug, info,
	// warn, or error. Unrecognized values fall back to info.
	Level string
	// FilePath is where the rotating JSON log is written.
	FilePath string
	// MaxSizeMB is the size threshold that triggers rotation.
	MaxSizeMB int
	// MaxFiles caps how many rotated generations are kept on disk.
	MaxFiles int
	// WriteToStderr additionally tees every record to stderr.
	WriteToStderr bool
}

// DefaultConfig is kbserver's out-of-the-box logging setup: info level,
// 10MB rotation, five generations kept, tee'd to stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig with the level lowered to debug, for local
// development runs.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup builds a *slog.Logger backed by a RotatingWriter and returns a
// cleanup func that flushes and closes the underlying file. Callers must
// defer the cleanup so in-flight records survive process exit.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(DefaultLogDir(), 0o755); err != nil {
		return nil, nil, err
	}

	w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var dst io.Writer = w
	if cfg.WriteToStderr {
		dst = io.MultiWriter(w, os.Stderr)
	}

	handler := slog.NewJSONHandler(dst, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	logger := slog.New(handler)

	cleanup := func() {
		_ = w.Sync()
		_ = w.Close()
	}
	return logger, cleanup, nil
}

// SetupDefault calls Setup with DebugConfig and installs the result as
// slog's package-level default, for callers that don't want to thread a
// logger through explicitly.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DebugConfig())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
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
