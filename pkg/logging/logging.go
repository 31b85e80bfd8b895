// Package logging builds the structured loggers used by the daemon and CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rexliu/davmark/pkg/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a text logger tagged with component. Output goes to stderr
// and, when cfg names a file, to a size-rotated log file as well. The
// returned Closer releases the file.
func New(component string, cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	return newLogger(os.Stderr, component, cfg)
}

func newLogger(console io.Writer, component string, cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var out io.Writer = console
	var closer io.Closer = nopCloser{}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return nil, nil, err
		}
		file := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.FileMaxSize,
			MaxBackups: cfg.FileBackups,
			MaxAge:     cfg.FileMaxAge,
		}
		out = io.MultiWriter(console, file)
		closer = file
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)})
	return slog.New(handler).With("component", component), closer, nil
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
