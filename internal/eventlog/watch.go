package eventlog

import (
	"context"
	"log/slog"

	"github.com/oszuidwest/zwfm-levelmeter/internal/tracker"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// MeterSource is the part of the tracker the watcher observes.
type MeterSource interface {
	Subscribe() *tracker.Subscription
	IsRecording() bool
	TargetLevel() float64
	Status() types.MeterStatus
}

// Watch logs recording state and target level changes of src until ctx is done.
func Watch(ctx context.Context, src MeterSource, l *Logger) error {
	sub := src.Subscribe()
	defer sub.Close()

	recording := src.IsRecording()
	target := src.TargetLevel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.C:
		}

		if now := src.TargetLevel(); now != target {
			target = now
			logErr(l.LogMeter(TargetChanged, "", MeterDetails{TargetDB: target}))
		}

		now := src.IsRecording()
		if now == recording {
			continue
		}
		recording = now

		status := src.Status()
		if recording {
			logErr(l.LogMeter(MeterStarted, "", MeterDetails{Backend: status.Backend, TargetDB: status.TargetDB}))
		} else {
			logErr(l.LogMeter(MeterStopped, "", MeterDetails{
				Backend:  status.Backend,
				TargetDB: status.TargetDB,
				Readings: status.Sequence, // the last reading is kept after Stop
				Error:    status.LastError,
			}))
		}
	}
}

func logErr(err error) {
	if err != nil {
		slog.Warn("failed to write event log", "error", err)
	}
}
