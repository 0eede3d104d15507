// Package meter provides per-block audio level estimation: RMS and peak levels in dB.
package meter

import (
	"errors"
	"math"
	"time"
)

const (
	// ReferenceLevel is the linear amplitude that maps to 0 dB before calibration.
	ReferenceLevel = 1.0
	// CalibrationOffsetDB maps digital full scale to an approximate SPL reading.
	CalibrationOffsetDB = 94.0
	// PeakOffsetDB is added to the peak level. Zero keeps peak in dBFS.
	PeakOffsetDB = 0.0
	// MinLinear is the floor applied to linear amplitudes before the logarithm.
	MinLinear = 1e-7
)

// ErrEmptyBlock is returned when a block contains no samples.
var ErrEmptyBlock = errors.New("empty audio block")

// Reading is the level measurement of exactly one audio block.
type Reading struct {
	// RMSDB is the calibrated RMS level in dB.
	RMSDB float64 `json:"rms_db"`
	// PeakDB is the peak sample magnitude in dB.
	PeakDB float64 `json:"peak_db"`
	// Sequence numbers the readings of a capture session, starting at 1.
	Sequence uint64 `json:"sequence"`
	// At is when the block was handed to the tracker.
	At time.Time `json:"at"`
}

// Calibration holds the constants used to convert linear amplitudes to dB.
type Calibration struct {
	// ReferenceLevel is the amplitude that maps to 0 dB (before offsets).
	ReferenceLevel float64
	// OffsetDB is added to the RMS level.
	OffsetDB float64
	// PeakOffsetDB is added to the peak level.
	PeakOffsetDB float64
	// MinLinear floors both amplitudes so silence yields a finite level.
	MinLinear float64
}

// DefaultCalibration returns the full-scale-to-SPL mapping used unless configured otherwise.
func DefaultCalibration() Calibration {
	return Calibration{
		ReferenceLevel: ReferenceLevel,
		OffsetDB:       CalibrationOffsetDB,
		PeakOffsetDB:   PeakOffsetDB,
		MinLinear:      MinLinear,
	}
}

// Floor returns the RMS and peak levels produced by a silent block.
func (c Calibration) Floor() (rmsDB, peakDB float64) {
	return c.toDB(0, c.OffsetDB), c.toDB(0, c.PeakOffsetDB)
}

// Process computes the RMS and peak levels of block.
// It does not retain block and is safe to call from any goroutine.
func (c Calibration) Process(block []float32) (Reading, error) {
	n := len(block)
	if n == 0 {
		return Reading{}, ErrEmptyBlock
	}

	var sumSquares, peak float64
	for _, s := range block {
		v := math.Abs(float64(s))
		if v != v { // NaN counts as silence
			continue
		}
		if v > math.MaxFloat32 {
			v = math.MaxFloat32
		}
		sumSquares += v * v
		if v > peak {
			peak = v
		}
	}

	rms := math.Sqrt(sumSquares / float64(n))

	return Reading{
		RMSDB:  c.toDB(rms, c.OffsetDB),
		PeakDB: c.toDB(peak, c.PeakOffsetDB),
	}, nil
}

// toDB converts a linear amplitude to dB, flooring it at MinLinear.
func (c Calibration) toDB(linear, offset float64) float64 {
	ref := c.ReferenceLevel
	if ref <= 0 {
		ref = ReferenceLevel
	}
	floor := c.MinLinear
	if floor <= 0 {
		floor = MinLinear
	}
	return 20*math.Log10(max(linear, floor)/ref) + offset
}

// Process computes block levels with DefaultCalibration.
func Process(block []float32) (Reading, error) {
	return DefaultCalibration().Process(block)
}

// Verdict is the outcome of comparing a reading with a target level.
type Verdict string

const (
	// VerdictAbove means the RMS level reached or exceeded the target.
	VerdictAbove Verdict = "above"
	// VerdictBelow means the RMS level is under the target.
	VerdictBelow Verdict = "below"
)

// Compare reports whether r reaches targetDB.
func Compare(r Reading, targetDB float64) Verdict {
	if r.RMSDB >= targetDB {
		return VerdictAbove
	}
	return VerdictBelow
}
