package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultMaxSizeMB = 10
	defaultMaxFiles  = 5
)

// Config selects the level and destination of log output.
type Config struct {
	Level string
	// FilePath is the log file; empty logs to stderr only.
	FilePath  string
	MaxSizeMB int
	MaxFiles  int
	// WriteToStderr copies file output to stderr.
	WriteToStderr bool
}

// DefaultConfig logs info and above to DefaultLogPath.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		FilePath:  DefaultLogPath(),
		MaxSizeMB: defaultMaxSizeMB,
		MaxFiles:  defaultMaxFiles,
	}
}

// DebugConfig is DefaultConfig at debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// DefaultLogPath is ~/.loki/logs/loki.log, under the temp directory when
// there is no home directory.
func DefaultLogPath() string {
	base, err := os.UserHomeDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, ".loki", "logs", "loki.log")
}

// Setup returns a JSON slog logger for cfg and a function that closes its
// log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var (
		out     io.Writer = os.Stderr
		cleanup           = func() {}
	)
	if cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, positive(cfg.MaxSizeMB, defaultMaxSizeMB), positive(cfg.MaxFiles, defaultMaxFiles))
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = w.Close() }
		out = w
		if cfg.WriteToStderr {
			out = io.MultiWriter(w, os.Stderr)
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return slog.New(handler), cleanup, nil
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// parseLevel accepts slog level names and "warning"; anything else is info.
func parseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
