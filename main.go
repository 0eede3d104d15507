// Package main runs the ZuidWest FM level meter: it measures the RMS and peak
// level of an audio input in real time, compares it with a target level and
// alerts when the level stays above target.
//
// Usage:
//
//	levelmeter [-c path/to/config.json] [--loglevel debug] [--logfile path]
//
// If -c is not specified, the meter looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-levelmeter/internal/alert"
	"github.com/oszuidwest/zwfm-levelmeter/internal/capture"
	"github.com/oszuidwest/zwfm-levelmeter/internal/config"
	"github.com/oszuidwest/zwfm-levelmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelmeter/internal/metrics"
	"github.com/oszuidwest/zwfm-levelmeter/internal/tracker"
	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

// options are the command line flags.
type options struct {
	Config   string `short:"c" long:"config" description:"Path to config file (default: config.json next to binary)"`
	Version  bool   `short:"V" long:"version" description:"Print version information and exit"`
	LogLevel string `long:"loglevel" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFile  string `long:"logfile" description:"Also write logs to this file, rotated by size"`
	NoStart  bool   `long:"no-start" description:"Do not start metering on launch"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("level meter failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		return err
	}

	if opts.Version {
		fmt.Printf("zwfm-levelmeter %s (commit %s, built %s, %s)\n", Version, Commit, BuildTime, runtime.Version())
		return nil
	}

	logs, err := initLog(opts.LogLevel, opts.LogFile)
	if err != nil {
		return err
	}
	defer util.SafeCloseFunc(logs, "log file")()

	if opts.Config == "" {
		execPath, err := os.Executable()
		if err != nil {
			return util.WrapError("get executable path", err)
		}
		opts.Config = filepath.Join(filepath.Dir(execPath), "config.json")
	}
	slog.Info("using config file", "path", opts.Config)

	cfg := config.New(opts.Config)
	if err := cfg.Load(); err != nil {
		return util.WrapError("load config", err)
	}
	if err := ensureAPIKey(cfg); err != nil {
		return err
	}

	snap := cfg.Snapshot()
	src, err := capture.New(snap.Capture)
	if err != nil {
		return util.WrapError("create capture source", err)
	}

	t := tracker.New(src,
		tracker.WithCalibration(snap.Calibration),
		tracker.WithTarget(snap.TargetDB),
		tracker.WithBackend(string(snap.Capture.Backend)),
	)

	events := openEventLog(cmp.Or(snap.EventLogPath, eventlog.DefaultLogPath(snap.WebPort)))
	defer util.SafeCloseFunc(events, "event log")()

	notifier := alert.NewNotifier(cfg)
	monitor := alert.NewMonitor(t, cfg, notifier, alert.WithEventLog(events))

	var collector *metrics.Collector
	if snap.MetricsEnabled {
		collector = metrics.New()
	}

	srv := NewServer(cfg, t, monitor, notifier, collector, events)

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	if events != nil {
		g.Go(func() error { return eventlog.Watch(gctx, t, events) })
	}
	if collector != nil {
		g.Go(func() error {
			return collector.Run(gctx, t, monitor, time.Duration(snap.MetricsIntervalMs)*time.Millisecond)
		})
	}
	if !snap.DisableVersionCheck {
		g.Go(func() error { return srv.version.Run(gctx) })
	}

	if !opts.NoStart {
		if err := t.Start(); err != nil {
			// The meter can be started later over the API.
			slog.Error("failed to start meter", "error", err)
		}
	}

	err = g.Wait()
	slog.Info("shutting down")

	if stopErr := t.Stop(); stopErr != nil {
		slog.Error("error stopping meter", "error", stopErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

// openEventLog opens the event log, or returns nil if it cannot be written.
func openEventLog(path string) *eventlog.Logger {
	events, err := eventlog.NewLogger(path)
	if err != nil {
		slog.Warn("event log disabled", "path", path, "error", err)
		return nil
	}
	slog.Info("writing events", "path", path)
	return events
}

// ensureAPIKey generates and saves an API key on first run so the control
// endpoints are never left open.
func ensureAPIKey(cfg *config.Config) error {
	if cfg.APIKey() != "" {
		return nil
	}
	key, err := config.GenerateAPIKey()
	if err != nil {
		return util.WrapError("generate API key", err)
	}
	if err := cfg.SetAPIKey(key); err != nil {
		return err
	}
	slog.Info("generated API key", "config", cfg.Path())
	return nil
}
