package alert

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-levelmeter/internal/config"
	"github.com/oszuidwest/zwfm-levelmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
	"github.com/oszuidwest/zwfm-levelmeter/internal/tracker"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// LevelSource is the part of the tracker the monitor observes.
type LevelSource interface {
	Subscribe() *tracker.Subscription
	Latest() (meter.Reading, bool)
	TargetLevel() float64
	IsRecording() bool
}

// Monitor compares every published reading with the target and feeds the
// detector, forwarding transitions to the notifier.
type Monitor struct {
	src      LevelSource
	cfg      *config.Config
	detector *Detector
	notifier *Notifier
	events   *eventlog.Logger
	now      func() time.Time

	running atomic.Bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithEventLog records episode transitions in l.
func WithEventLog(l *eventlog.Logger) MonitorOption {
	return func(m *Monitor) { m.events = l }
}

// NewMonitor creates a monitor for src using the alert settings in cfg.
func NewMonitor(src LevelSource, cfg *config.Config, notifier *Notifier, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		src:      src,
		cfg:      cfg,
		detector: NewDetector(),
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run observes the tracker until ctx is cancelled. In-flight notifications are
// waited for before it returns.
func (m *Monitor) Run(ctx context.Context) error {
	sub := m.src.Subscribe()
	defer sub.Close()
	defer m.notifier.Wait()

	m.running.Store(true)
	defer m.running.Store(false)

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.C:
		}

		cfg := m.cfg.Snapshot()
		if !cfg.AlertsEnabled || !m.src.IsRecording() {
			m.reset()
			lastSeq = 0
			continue
		}

		r, ok := m.src.Latest()
		if !ok || r.Sequence == lastSeq {
			continue
		}
		lastSeq = r.Sequence

		ev := m.detector.Update(r, m.src.TargetLevel(), Timing{
			HoldMs:     cfg.AlertHoldMs,
			RecoveryMs: cfg.AlertRecoveryMs,
		}, m.now())

		if ev.JustEntered {
			slog.Warn("level above target", "level_db", ev.LevelDB, "target_db", ev.TargetDB, "duration_ms", ev.DurationMs)
			m.logEvent(eventlog.LevelHigh, ev.LevelDB, ev.TargetDB, ev.DurationMs)
		}
		if ev.JustRecovered {
			slog.Info("level recovered", "level_db", ev.LevelDB, "target_db", ev.TargetDB, "duration_ms", ev.TotalDurationMs)
			m.logEvent(eventlog.LevelRecovered, ev.LevelDB, ev.TargetDB, ev.TotalDurationMs)
		}
		m.notifier.HandleEvent(ev)
	}
}

func (m *Monitor) logEvent(t eventlog.EventType, levelDB, targetDB float64, durationMs int64) {
	if err := m.events.LogLevel(t, levelDB, targetDB, durationMs); err != nil {
		slog.Warn("failed to write event log", "error", err)
	}
}

// reset ends any episode silently, e.g. when the meter stops.
func (m *Monitor) reset() {
	if m.detector.Status().State == types.AlertActive {
		slog.Info("alert episode cleared", "reason", "meter stopped or alerts disabled")
	}
	m.detector.Reset()
	m.notifier.Reset()
}

// Status returns the monitor state for status responses.
func (m *Monitor) Status() types.AlertStatus {
	status := m.detector.Status()
	status.Enabled = m.running.Load() && m.cfg.Snapshot().AlertsEnabled
	return status
}
