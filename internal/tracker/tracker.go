// Package tracker owns the capture session lifecycle and publishes the latest
// level reading to observers.
//
// Blocks arrive on the capture source's own goroutine or audio thread. That
// path only touches atomics: it never takes the control mutex, never logs and
// never allocates, so a slow observer cannot stall capture.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/oszuidwest/zwfm-levelmeter/internal/capture"
	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// Sentinel errors for tracker operations.
var (
	ErrAlreadyRecording = errors.New("meter already recording")
	ErrInvalidTarget    = errors.New("target level must be a finite number")
)

// DefaultTargetDB is the target level used when none is configured.
const DefaultTargetDB = 70.0

// Option configures a Tracker.
type Option func(*Tracker)

// WithCalibration sets the dB conversion constants.
func WithCalibration(c meter.Calibration) Option {
	return func(t *Tracker) { t.cal = c }
}

// WithTarget sets the initial target level in dB.
func WithTarget(db float64) Option {
	return func(t *Tracker) {
		if !math.IsNaN(db) && !math.IsInf(db, 0) {
			t.target.Store(math.Float64bits(db))
		}
	}
}

// WithLogger sets the logger used for control-plane events.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithBackend labels the capture backend in status output.
func WithBackend(name string) Option {
	return func(t *Tracker) { t.backend = name }
}

// WithClock replaces time.Now for reading timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// counters are the hot-path statistics.
type counters struct {
	received  atomic.Uint64
	published atomic.Uint64
	empty     atomic.Uint64
	late      atomic.Uint64
	panics    atomic.Uint64
}

// Tracker holds the latest reading and the recording state of one capture source.
// All methods are safe for concurrent use.
type Tracker struct {
	src     capture.Source
	cal     meter.Calibration
	log     *slog.Logger
	now     func() time.Time
	backend string

	// mu serialises Start, Stop and status reads. The block path never takes it.
	mu        sync.Mutex
	gen       uint64
	startTime time.Time
	lastError string

	recording atomic.Bool
	session   atomic.Uint64 // generation accepted by onBlock, 0 unless recording
	inflight  atomic.Int64  // onBlock calls currently past their entry
	seq       atomic.Uint64 // readings published in the current session
	target    atomic.Uint64 // float64 bits

	latest slot
	stats  counters

	subs      *xsync.MapOf[uint64, chan struct{}]
	nextSubID atomic.Uint64
	subMu     sync.Mutex
	fanout    atomic.Pointer[[]chan struct{}]
}

// New creates a stopped tracker that reads from src.
func New(src capture.Source, opts ...Option) *Tracker {
	t := &Tracker{
		src:  src,
		cal:  meter.DefaultCalibration(),
		log:  slog.Default(),
		now:  time.Now,
		subs: xsync.NewMapOf[uint64, chan struct{}](),
	}
	t.target.Store(math.Float64bits(DefaultTargetDB))
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start opens the capture source and begins publishing readings.
//
// It returns ErrAlreadyRecording if a session is active, leaving that session
// untouched. If the source cannot be opened the returned error wraps
// capture.ErrCaptureUnavailable and the tracker stays stopped.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.recording.Load() {
		t.log.Warn("start ignored, meter is already recording")
		return ErrAlreadyRecording
	}

	t.gen++
	gen := t.gen
	t.latest.clear()
	t.seq.Store(0)

	// The guard stays closed while Open runs: a source may deliver before Open
	// returns, and those blocks belong to a session that is not recording yet.
	err := t.src.Open(func(samples []float32, frameCount int) {
		t.onBlock(gen, samples, frameCount)
	})
	if err != nil {
		t.waitIdle()
		t.latest.clear()
		if !errors.Is(err, capture.ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %w", capture.ErrCaptureUnavailable, err)
		}
		t.lastError = err.Error()
		t.log.Error("failed to start capture", "backend", t.backend, "error", err)
		return err
	}

	t.startTime = t.now()
	t.lastError = ""
	t.recording.Store(true)
	t.session.Store(gen)
	t.log.Info("meter started", "backend", t.backend, "target_db", t.TargetLevel())
	t.notify()
	return nil
}

// Stop ends the capture session. It is a no-op when not recording.
//
// Once Stop returns no reading from the ended session is published, even if
// the source still delivers a block it captured earlier.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.recording.Load() {
		return nil
	}

	// Reject new blocks first, then wait out any block already past the guard.
	t.session.Store(0)
	t.waitIdle()

	err := t.src.Close()
	t.recording.Store(false)

	published := t.seq.Load()
	t.log.Info("meter stopped", "backend", t.backend, "readings", published,
		"uptime", t.now().Sub(t.startTime).Round(time.Second))
	t.notify()

	if err != nil {
		t.log.Warn("failed to close capture source", "error", err)
		return fmt.Errorf("close capture source: %w", err)
	}
	return nil
}

// waitIdle spins until no onBlock call is between its guard check and return.
// Processing one block is bounded, so the wait is short.
func (t *Tracker) waitIdle() {
	for t.inflight.Load() != 0 {
		runtime.Gosched()
	}
}

// onBlock runs on the capture source's context.
func (t *Tracker) onBlock(gen uint64, samples []float32, frameCount int) {
	t.inflight.Add(1)
	defer t.inflight.Add(-1)

	t.stats.received.Add(1)
	if t.session.Load() != gen {
		t.stats.late.Add(1)
		return
	}

	defer func() {
		if recover() != nil {
			t.stats.panics.Add(1)
		}
	}()

	if frameCount >= 0 && frameCount < len(samples) {
		samples = samples[:frameCount]
	}

	r, err := t.cal.Process(samples)
	if err != nil {
		t.stats.empty.Add(1)
		return
	}

	r.Sequence = t.seq.Add(1)
	r.At = t.now()
	t.latest.store(r)
	t.stats.published.Add(1)
	t.notify()
}

// SetTargetLevel updates the target level. It does not affect readings.
func (t *Tracker) SetTargetLevel(db float64) error {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return ErrInvalidTarget
	}
	t.target.Store(math.Float64bits(db))
	t.notify()
	return nil
}

// TargetLevel returns the current target level in dB.
func (t *Tracker) TargetLevel() float64 {
	return math.Float64frombits(t.target.Load())
}

// Latest returns the most recent reading of the current or last session and
// whether one has been published since the last Start.
func (t *Tracker) Latest() (meter.Reading, bool) {
	return t.latest.load()
}

// IsRecording reports whether a capture session is active.
func (t *Tracker) IsRecording() bool {
	return t.recording.Load()
}

// State returns the current tracker state.
func (t *Tracker) State() types.MeterState {
	if t.recording.Load() {
		return types.StateRecording
	}
	return types.StateStopped
}

// Calibration returns the dB conversion constants in use.
func (t *Tracker) Calibration() meter.Calibration {
	return t.cal
}

// Stats returns a snapshot of the hot-path counters.
func (t *Tracker) Stats() types.MeterStats {
	return types.MeterStats{
		BlocksReceived:  t.stats.received.Load(),
		BlocksPublished: t.stats.published.Load(),
		EmptyBlocks:     t.stats.empty.Load(),
		LateBlocks:      t.stats.late.Load(),
		Panics:          t.stats.panics.Load(),
	}
}

// lastErrorer is implemented by sources that keep running after a failure.
type lastErrorer interface {
	LastError() string
}

// Status returns a summary of the tracker's current operational state.
func (t *Tracker) Status() types.MeterStatus {
	t.mu.Lock()
	startTime := t.startTime
	lastError := t.lastError
	t.mu.Unlock()

	recording := t.recording.Load()
	if lastError == "" && recording {
		if le, ok := t.src.(lastErrorer); ok {
			lastError = le.LastError()
		}
	}

	status := types.MeterStatus{
		State:     t.State(),
		Recording: recording,
		Backend:   t.backend,
		TargetDB:  t.TargetLevel(),
		LastError: lastError,
		Stats:     t.Stats(),
	}

	if r, ok := t.Latest(); ok {
		status.RMSDB = r.RMSDB
		status.PeakDB = r.PeakDB
		status.Sequence = r.Sequence
		status.HasLevels = true
	} else {
		status.RMSDB, status.PeakDB = t.cal.Floor()
	}

	if recording {
		status.Uptime = t.now().Sub(startTime).Round(time.Second).String()
	}
	return status
}
