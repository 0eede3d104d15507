package tracker

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-levelmeter/internal/meter"
)

// slot holds the latest reading as a seqlock: writers make the version odd,
// store the fields, then make it even again. Readers retry until they see the
// same even version before and after loading. Neither side allocates or blocks
// on a mutex.
type slot struct {
	version atomic.Uint64
	rms     atomic.Uint64
	peak    atomic.Uint64
	seq     atomic.Uint64
	at      atomic.Int64
}

// store publishes r. Concurrent writers are serialised by the version CAS.
func (s *slot) store(r meter.Reading) {
	for {
		v := s.version.Load()
		if v&1 == 0 && s.version.CompareAndSwap(v, v+1) {
			break
		}
		runtime.Gosched()
	}
	s.rms.Store(math.Float64bits(r.RMSDB))
	s.peak.Store(math.Float64bits(r.PeakDB))
	s.seq.Store(r.Sequence)
	var at int64
	if !r.At.IsZero() {
		at = r.At.UnixNano()
	}
	s.at.Store(at)
	s.version.Add(1)
}

// clear marks the slot as empty.
func (s *slot) clear() {
	s.store(meter.Reading{})
}

// load returns a consistent copy of the latest reading and whether one was
// published since the last clear.
func (s *slot) load() (meter.Reading, bool) {
	for {
		v1 := s.version.Load()
		if v1&1 == 1 {
			runtime.Gosched()
			continue
		}
		r := meter.Reading{
			RMSDB:    math.Float64frombits(s.rms.Load()),
			PeakDB:   math.Float64frombits(s.peak.Load()),
			Sequence: s.seq.Load(),
		}
		at := s.at.Load()
		if s.version.Load() != v1 {
			continue
		}
		if at != 0 {
			r.At = time.Unix(0, at)
		}
		return r, r.Sequence != 0
	}
}
