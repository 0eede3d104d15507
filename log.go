package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/logrotate/rotator"
)

// logRotateKB is the size at which the log file is rolled over.
const logRotateKB = 10 * 1024

// logBackend writes every log line to stdout and, when configured, a rotated file.
type logBackend struct {
	stdOut     io.Writer
	logRotator *rotator.Rotator
}

func (bknd *logBackend) Write(b []byte) (int, error) {
	if bknd.stdOut != nil {
		_, _ = bknd.stdOut.Write(b)
	}
	if bknd.logRotator != nil {
		_, _ = bknd.logRotator.Write(b)
	}
	return len(b), nil
}

// Close flushes and closes the rotated log file.
func (bknd *logBackend) Close() error {
	if bknd.logRotator == nil {
		return nil
	}
	return bknd.logRotator.Close()
}

// parseLogLevel maps a level name to a slog level.
func parseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// initLog installs the default slog logger. logFile may be empty to log to stdout only.
func initLog(level, logFile string) (*logBackend, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}

	bknd := &logBackend{stdOut: os.Stdout}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		r, err := rotator.New(logFile, logRotateKB, true, 8)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		bknd.logRotator = r
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(bknd, &slog.HandlerOptions{Level: lvl})))
	return bknd, nil
}
