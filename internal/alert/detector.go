// Package alert watches the live level against the target and notifies
// external channels when it stays above the target for too long.
package alert

import (
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// Timing holds the configurable hold and recovery times.
type Timing struct {
	HoldMs     int64 // milliseconds above target before alerting
	RecoveryMs int64 // milliseconds below target before considering recovered
}

// Event represents the result of a detector update.
type Event struct {
	// Current state
	Active     bool             // Currently in a confirmed episode
	DurationMs int64            // Time above target in the current episode
	State      types.AlertState // AlertActive while in an episode

	// Levels for notifications
	LevelDB  float64
	TargetDB float64

	// State transitions
	JustEntered     bool  // True on the update that confirms the episode
	JustRecovered   bool  // True on the update that completes recovery
	TotalDurationMs int64 // Episode length, only set when JustRecovered
}

// Detector tracks how long the RMS level stays above the target and
// generates episode events. It is safe for concurrent use.
type Detector struct {
	mu            sync.Mutex
	aboveStart    time.Time // when the level first reached the target
	recoveryStart time.Time // when the level dropped below target during an episode
	active        bool
	durationMs    int64
	episodes      uint64
}

// NewDetector creates a detector in the idle state.
func NewDetector() *Detector {
	return &Detector{}
}

// Update feeds one reading into the detector and returns the current state.
func (d *Detector) Update(r meter.Reading, targetDB float64, timing Timing, now time.Time) Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	event := Event{
		State:    types.AlertIdle,
		LevelDB:  r.RMSDB,
		TargetDB: targetDB,
	}

	if meter.Compare(r, targetDB) == meter.VerdictAbove {
		d.recoveryStart = time.Time{}

		if d.aboveStart.IsZero() {
			d.aboveStart = now
		}
		d.durationMs = now.Sub(d.aboveStart).Milliseconds()

		if !d.active && d.durationMs >= timing.HoldMs {
			d.active = true
			d.episodes++
			event.JustEntered = true
		}
		if d.active {
			event.Active = true
			event.DurationMs = d.durationMs
			event.State = types.AlertActive
		}
		return event
	}

	if !d.active {
		d.aboveStart = time.Time{}
		return event
	}

	// Below target during an episode: the episode start is kept until recovery completes.
	if d.recoveryStart.IsZero() {
		d.recoveryStart = now
	}
	if now.Sub(d.recoveryStart).Milliseconds() >= timing.RecoveryMs {
		event.JustRecovered = true
		event.TotalDurationMs = d.durationMs
		d.active = false
		d.durationMs = 0
		d.aboveStart = time.Time{}
		d.recoveryStart = time.Time{}
		return event
	}

	event.Active = true
	event.DurationMs = d.durationMs
	event.State = types.AlertActive
	return event
}

// Status returns the detector state for status responses.
func (d *Detector) Status() types.AlertStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := types.AlertStatus{State: types.AlertIdle, Episodes: d.episodes}
	if d.active {
		status.State = types.AlertActive
		status.DurationMs = d.durationMs
	}
	return status
}

// Reset clears the episode state. The episode count is kept.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aboveStart = time.Time{}
	d.recoveryStart = time.Time{}
	d.active = false
	d.durationMs = 0
}
