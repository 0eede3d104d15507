package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

func reading(db float64) meter.Reading {
	return meter.Reading{RMSDB: db, PeakDB: db - 94}
}

func TestDetectorBelowTargetStaysIdle(t *testing.T) {
	d := NewDetector()
	base := time.Unix(1000, 0)
	timing := Timing{HoldMs: 1000, RecoveryMs: 500}

	for i := range 10 {
		ev := d.Update(reading(60), 70, timing, base.Add(time.Duration(i)*time.Second))
		assert.False(t, ev.Active)
		assert.False(t, ev.JustEntered)
		assert.Equal(t, types.AlertIdle, ev.State)
	}
	assert.Equal(t, uint64(0), d.Status().Episodes)
}

func TestDetectorEpisode(t *testing.T) {
	d := NewDetector()
	base := time.Unix(1000, 0)
	timing := Timing{HoldMs: 1000, RecoveryMs: 500}

	ev := d.Update(reading(75), 70, timing, base)
	assert.False(t, ev.Active, "hold time not reached")

	ev = d.Update(reading(75), 70, timing, base.Add(999*time.Millisecond))
	assert.False(t, ev.Active)

	ev = d.Update(reading(76), 70, timing, base.Add(time.Second))
	require.True(t, ev.JustEntered)
	assert.True(t, ev.Active)
	assert.Equal(t, types.AlertActive, ev.State)
	assert.Equal(t, int64(1000), ev.DurationMs)
	assert.InDelta(t, 76.0, ev.LevelDB, 1e-9)
	assert.InDelta(t, 70.0, ev.TargetDB, 1e-9)

	ev = d.Update(reading(76), 70, timing, base.Add(2*time.Second))
	assert.False(t, ev.JustEntered, "entered fires once per episode")
	assert.Equal(t, int64(2000), ev.DurationMs)

	// A short dip keeps the episode open.
	ev = d.Update(reading(60), 70, timing, base.Add(2100*time.Millisecond))
	assert.True(t, ev.Active)
	assert.False(t, ev.JustRecovered)
	ev = d.Update(reading(75), 70, timing, base.Add(2200*time.Millisecond))
	assert.True(t, ev.Active)
	assert.Equal(t, int64(2200), ev.DurationMs)

	ev = d.Update(reading(60), 70, timing, base.Add(3*time.Second))
	assert.True(t, ev.Active)
	ev = d.Update(reading(60), 70, timing, base.Add(3500*time.Millisecond))
	require.True(t, ev.JustRecovered)
	assert.False(t, ev.Active)
	assert.Equal(t, int64(2200), ev.TotalDurationMs)

	status := d.Status()
	assert.Equal(t, types.AlertIdle, status.State)
	assert.Equal(t, uint64(1), status.Episodes)
}

func TestDetectorTargetIsInclusive(t *testing.T) {
	d := NewDetector()
	ev := d.Update(reading(70), 70, Timing{}, time.Unix(0, 0))
	assert.True(t, ev.JustEntered, "a level equal to the target counts as above")
}

func TestDetectorZeroTiming(t *testing.T) {
	d := NewDetector()
	now := time.Unix(0, 0)

	assert.True(t, d.Update(reading(80), 70, Timing{}, now).JustEntered)
	assert.True(t, d.Update(reading(50), 70, Timing{}, now).JustRecovered)
	assert.True(t, d.Update(reading(80), 70, Timing{}, now).JustEntered)
	assert.Equal(t, uint64(2), d.Status().Episodes)
}

func TestDetectorResetKeepsEpisodeCount(t *testing.T) {
	d := NewDetector()
	now := time.Unix(0, 0)
	d.Update(reading(80), 70, Timing{}, now)
	require.Equal(t, types.AlertActive, d.Status().State)

	d.Reset()
	status := d.Status()
	assert.Equal(t, types.AlertIdle, status.State)
	assert.Zero(t, status.DurationMs)
	assert.Equal(t, uint64(1), status.Episodes)

	ev := d.Update(reading(50), 70, Timing{}, now)
	assert.False(t, ev.JustRecovered, "no recovery without an open episode")
}
