// Package log installs the process-wide slog logger.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/chronicle/internal/config"
)

// logFile is the rotating file installed by the last Init, if any.
var logFile *lumberjack.Logger

// Init installs the process logger. Diagnostics go to stderr, leaving stdout
// to the console sink. Calling Init again replaces the previous logger and
// closes its file.
func Init(cfg config.LogConfig) error {
	handlerOut := io.Writer(os.Stderr)
	var lj *lumberjack.Logger
	if cfg.File.Enabled {
		var err error
		if lj, err = createFileWriter(cfg.File); err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		handlerOut = io.MultiWriter(os.Stderr, lj)
	}

	handler, err := newHandler(handlerOut, cfg)
	if err != nil {
		return err
	}
	_ = Close()
	logFile = lj
	slog.SetDefault(slog.New(handler).With("app", "chronicle"))
	return nil
}

// Close closes the log file opened by Init. Later records still reach stderr
// only if Init is called again.
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func newHandler(w io.Writer, cfg config.LogConfig) (slog.Handler, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter returns a rotating writer. lumberjack opens the file on
// first write.
func createFileWriter(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
