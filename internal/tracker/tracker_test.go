package tracker

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-levelmeter/internal/capture"
	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// fakeSource stores the callback given to Open and lets the test drive it.
// It keeps every callback it was ever given, so tests can play a source that
// delivers stale blocks after Close.
type fakeSource struct {
	mu        sync.Mutex
	callbacks []capture.BlockFunc
	current   capture.BlockFunc
	opens     int
	closes    int
	openErr   error
	closeErr  error
}

func (f *fakeSource) Open(fn capture.BlockFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return f.openErr
	}
	f.current = fn
	f.callbacks = append(f.callbacks, fn)
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.current = nil
	return f.closeErr
}

func (f *fakeSource) callback(i int) capture.BlockFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks[i]
}

func (f *fakeSource) deliver(block []float32) bool {
	f.mu.Lock()
	fn := f.current
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(block, len(block))
	return true
}

func (f *fakeSource) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

func level(amplitude float32) []float32 {
	b := make([]float32, 256)
	for i := range b {
		b[i] = amplitude
	}
	return b
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracker(src capture.Source, opts ...Option) *Tracker {
	return New(src, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func TestStartPublishesReadings(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src)

	assert.Equal(t, types.StateStopped, tr.State())
	_, ok := tr.Latest()
	assert.False(t, ok)

	require.NoError(t, tr.Start())
	assert.True(t, tr.IsRecording())
	assert.Equal(t, types.StateRecording, tr.State())

	require.True(t, src.deliver(level(1.0)))
	r, ok := tr.Latest()
	require.True(t, ok)
	assert.InDelta(t, 94.0, r.RMSDB, 1e-3)
	assert.InDelta(t, 0.0, r.PeakDB, 1e-3)
	assert.Equal(t, uint64(1), r.Sequence)
	assert.False(t, r.At.IsZero())

	require.True(t, src.deliver(level(0.5)))
	r, _ = tr.Latest()
	assert.InDelta(t, 87.96, r.RMSDB, 0.01)
	assert.Equal(t, uint64(2), r.Sequence)
}

func TestFrameCountLimitsBlock(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src)
	require.NoError(t, tr.Start())

	block := []float32{1, 1, 0, 0}
	src.callback(0)(block, 2)

	r, ok := tr.Latest()
	require.True(t, ok)
	assert.InDelta(t, 94.0, r.RMSDB, 1e-3)
}

func TestStartWhileRecording(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src)

	require.NoError(t, tr.Start())
	require.True(t, src.deliver(level(0.5)))

	err := tr.Start()
	require.ErrorIs(t, err, ErrAlreadyRecording)

	opens, closes := src.counts()
	assert.Equal(t, 1, opens, "no second session opened")
	assert.Zero(t, closes)
	assert.True(t, tr.IsRecording())

	r, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), r.Sequence, "running session untouched")
}

func TestStartCaptureUnavailable(t *testing.T) {
	src := &fakeSource{openErr: errors.New("permission denied")}
	tr := newTestTracker(src)

	err := tr.Start()
	require.ErrorIs(t, err, capture.ErrCaptureUnavailable)
	assert.False(t, tr.IsRecording())
	assert.Equal(t, types.StateStopped, tr.State())
	assert.Contains(t, tr.Status().LastError, "permission denied")

	src.mu.Lock()
	src.openErr = nil
	src.mu.Unlock()

	require.NoError(t, tr.Start())
	assert.Empty(t, tr.Status().LastError)
}

func TestStartKeepsWrappedUnavailable(t *testing.T) {
	wrapped := errors.Join(capture.ErrCaptureUnavailable, errors.New("no device"))
	tr := newTestTracker(&fakeSource{openErr: wrapped})

	err := tr.Start()
	require.ErrorIs(t, err, capture.ErrCaptureUnavailable)
	assert.Equal(t, wrapped, err)
}

// eagerSource delivers a block from inside Open, as a device that starts
// streaming before its open call returns.
type eagerSource struct {
	openErr   error
	recording []bool
	published []bool
	isRec     func() bool
	latest    func() (meter.Reading, bool)
}

func (e *eagerSource) Open(fn capture.BlockFunc) error {
	fn(level(0.5), 256)
	_, ok := e.latest()
	e.published = append(e.published, ok)
	e.recording = append(e.recording, e.isRec())
	return e.openErr
}

func (e *eagerSource) Close() error { return nil }

func TestBlocksDuringOpenAreNotPublished(t *testing.T) {
	src := &eagerSource{}
	tr := newTestTracker(src)
	src.isRec, src.latest = tr.IsRecording, tr.Latest

	require.NoError(t, tr.Start())
	assert.Equal(t, []bool{false}, src.published, "nothing published before recording")
	assert.Equal(t, []bool{false}, src.recording)

	_, ok := tr.Latest()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), tr.Stats().LateBlocks)
	assert.Zero(t, tr.Stats().BlocksPublished)
}

func TestFailedStartLeavesNoReading(t *testing.T) {
	src := &eagerSource{openErr: errors.New("device lost")}
	tr := newTestTracker(src)
	src.isRec, src.latest = tr.IsRecording, tr.Latest

	err := tr.Start()
	require.ErrorIs(t, err, capture.ErrCaptureUnavailable)
	assert.False(t, tr.IsRecording())

	_, ok := tr.Latest()
	assert.False(t, ok, "no reading from a session that never started")
	assert.Equal(t, []bool{false}, src.published)
}

func TestStopIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src)

	require.NoError(t, tr.Stop())
	_, closes := src.counts()
	assert.Zero(t, closes, "stop while stopped does not touch the source")

	require.NoError(t, tr.Start())
	require.NoError(t, tr.Stop())
	require.NoError(t, tr.Stop())

	_, closes = src.counts()
	assert.Equal(t, 1, closes)
	assert.False(t, tr.IsRecording())
}

func TestStopReportsCloseError(t *testing.T) {
	src := &fakeSource{closeErr: errors.New("device busy")}
	tr := newTestTracker(src)

	require.NoError(t, tr.Start())
	err := tr.Stop()
	require.Error(t, err)
	assert.False(t, tr.IsRecording(), "state is stopped even if close fails")
}

func TestStopThenStartRejectsStaleBlocks(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src)

	require.NoError(t, tr.Start())
	first := src.callback(0)
	first(level(0.5), 256)
	before, ok := tr.Latest()
	require.True(t, ok)

	require.NoError(t, tr.Stop())

	// A block captured while stopped, delivered by a source that ignored Close.
	first(level(0.9), 256)
	after, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, before, after)

	require.NoError(t, tr.Start())
	_, ok = tr.Latest()
	assert.False(t, ok, "new session starts without a reading")

	// The stale callback is still rejected after the restart.
	first(level(0.9), 256)
	_, ok = tr.Latest()
	assert.False(t, ok)

	second := src.callback(1)
	second(level(0.25), 256)
	r, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), r.Sequence)
	assert.InDelta(t, 20*math.Log10(0.25)+94, r.RMSDB, 1e-3)

	stats := tr.Stats()
	assert.Equal(t, uint64(2), stats.LateBlocks)
	assert.Equal(t, uint64(2), stats.BlocksPublished)
	assert.Equal(t, uint64(4), stats.BlocksReceived)
}

func TestEmptyBlockKeepsPreviousReading(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src)
	require.NoError(t, tr.Start())

	require.True(t, src.deliver(level(0.5)))
	before, _ := tr.Latest()

	require.NotPanics(t, func() {
		src.deliver(nil)
		src.deliver([]float32{})
	})

	after, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(2), tr.Stats().EmptyBlocks)
	assert.True(t, tr.IsRecording())
}

type panicClock struct{ calls atomic.Int64 }

func (c *panicClock) now() time.Time {
	if c.calls.Add(1) == 2 {
		panic("clock failure")
	}
	return time.Now()
}

func TestPanicInBlockPathIsRecovered(t *testing.T) {
	src := &fakeSource{}
	clock := &panicClock{}
	tr := newTestTracker(src, WithClock(clock.now))

	require.NoError(t, tr.Start()) // first clock call
	require.NotPanics(t, func() {
		src.deliver(level(0.5)) // second clock call panics
	})
	assert.Equal(t, uint64(1), tr.Stats().Panics)

	require.True(t, src.deliver(level(0.5)))
	_, ok := tr.Latest()
	assert.True(t, ok)

	require.NoError(t, tr.Stop())
}

func TestSetTargetLevel(t *testing.T) {
	tr := newTestTracker(&fakeSource{}, WithTarget(65))
	assert.Equal(t, 65.0, tr.TargetLevel())

	sub := tr.Subscribe()
	defer sub.Close()

	require.NoError(t, tr.SetTargetLevel(80))
	assert.Equal(t, 80.0, tr.TargetLevel())

	select {
	case <-sub.C:
	default:
		t.Fatal("target change did not notify")
	}

	require.ErrorIs(t, tr.SetTargetLevel(math.NaN()), ErrInvalidTarget)
	require.ErrorIs(t, tr.SetTargetLevel(math.Inf(1)), ErrInvalidTarget)
	assert.Equal(t, 80.0, tr.TargetLevel())
}

func TestSubscriptionCoalesces(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src)
	sub := tr.Subscribe()

	require.NoError(t, tr.Start())
	for range 100 {
		require.True(t, src.deliver(level(0.5)))
	}

	<-sub.C
	select {
	case <-sub.C:
		t.Fatal("notifications did not coalesce")
	default:
	}

	r, _ := tr.Latest()
	assert.Equal(t, uint64(100), r.Sequence)

	sub.Close()
	sub.Close()
	require.True(t, src.deliver(level(0.5)))
	select {
	case <-sub.C:
		t.Fatal("closed subscription notified")
	default:
	}
}

func TestStatus(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src, WithBackend("tone"), WithTarget(72))

	status := tr.Status()
	assert.Equal(t, types.StateStopped, status.State)
	assert.False(t, status.HasLevels)
	assert.InDelta(t, -46.0, status.RMSDB, 1e-3)
	assert.InDelta(t, -140.0, status.PeakDB, 1e-3)
	assert.Equal(t, "tone", status.Backend)
	assert.Equal(t, 72.0, status.TargetDB)

	require.NoError(t, tr.Start())
	require.True(t, src.deliver(level(1.0)))

	status = tr.Status()
	assert.True(t, status.Recording)
	assert.True(t, status.HasLevels)
	assert.InDelta(t, 94.0, status.RMSDB, 1e-3)
	assert.Equal(t, uint64(1), status.Sequence)
	assert.NotEmpty(t, status.Uptime)
	assert.Equal(t, uint64(1), status.Stats.BlocksPublished)
}

func TestCalibrationOption(t *testing.T) {
	src := &fakeSource{}
	cal := meter.DefaultCalibration()
	cal.PeakOffsetDB = cal.OffsetDB
	tr := newTestTracker(src, WithCalibration(cal))

	require.NoError(t, tr.Start())
	require.True(t, src.deliver(level(1.0)))

	r, _ := tr.Latest()
	assert.InDelta(t, 94.0, r.PeakDB, 1e-3)
}

// TestConcurrentStopStartNeverPublishesWhileStopped drives a source that keeps
// delivering on every callback it was ever given, including after Close, and
// checks that no reading is processed while the tracker is stopped.
func TestConcurrentStopStartNeverPublishesWhileStopped(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src)

	var stopProducer atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		block := level(0.3)
		for !stopProducer.Load() {
			src.mu.Lock()
			callbacks := append([]capture.BlockFunc(nil), src.callbacks...)
			src.mu.Unlock()
			for _, fn := range callbacks {
				fn(block, len(block))
			}
		}
	}()

	for range 50 {
		require.NoError(t, tr.Start())
		time.Sleep(200 * time.Microsecond)
		require.NoError(t, tr.Stop())

		from := time.Now()
		publishedAtStop := tr.Stats().BlocksPublished
		latestAtStop, _ := tr.Latest()

		time.Sleep(200 * time.Microsecond)

		assert.Equal(t, publishedAtStop, tr.Stats().BlocksPublished, "published while stopped")
		latest, _ := tr.Latest()
		assert.Equal(t, latestAtStop, latest)
		if !latest.At.IsZero() {
			assert.False(t, latest.At.After(from), "reading stamped after stop returned")
		}
	}

	stopProducer.Store(true)
	wg.Wait()

	assert.Positive(t, tr.Stats().LateBlocks)
}

func TestSlotConsistentUnderConcurrency(t *testing.T) {
	var s slot
	var stop atomic.Bool
	var wg sync.WaitGroup

	// Writers store pairs where PeakDB is always RMSDB - 94.
	for w := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := uint64(1); !stop.Load(); i++ {
				v := float64(i*2 + uint64(w))
				s.store(meter.Reading{RMSDB: v + 94, PeakDB: v, Sequence: i})
			}
		}()
	}

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		r, ok := s.load()
		if !ok {
			continue
		}
		require.Equal(t, r.RMSDB-94, r.PeakDB, "torn read")
	}
	stop.Store(true)
	wg.Wait()
}

func TestBlockPathDoesNotAllocate(t *testing.T) {
	src := &fakeSource{}
	tr := newTestTracker(src)
	sub := tr.Subscribe()
	defer sub.Close()
	require.NoError(t, tr.Start())

	fn := src.callback(0)
	block := level(0.5)
	allocs := testing.AllocsPerRun(1000, func() {
		fn(block, len(block))
	})
	assert.Zero(t, allocs)
}
