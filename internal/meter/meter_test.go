package meter

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-3

func filled(n int, v float32) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestProcessSilence(t *testing.T) {
	for _, n := range []int{1, 7, 2048, 4096} {
		r, err := Process(make([]float32, n))
		require.NoError(t, err)
		assert.InDelta(t, 20*math.Log10(1e-7)+94.0, r.RMSDB, tolerance, "n=%d", n)
		assert.InDelta(t, -46.0, r.RMSDB, tolerance)
		assert.InDelta(t, -140.0, r.PeakDB, tolerance)
	}
}

func TestProcessFullScale(t *testing.T) {
	r, err := Process(filled(2048, 1.0))
	require.NoError(t, err)
	assert.InDelta(t, 94.0, r.RMSDB, tolerance)
	assert.InDelta(t, 0.0, r.PeakDB, tolerance)
}

func TestProcessHalfAmplitude(t *testing.T) {
	r, err := Process(filled(2048, 0.5))
	require.NoError(t, err)
	assert.InDelta(t, 20*math.Log10(0.5)+94.0, r.RMSDB, tolerance)
	assert.InDelta(t, 87.96, r.RMSDB, 0.01)
	assert.InDelta(t, 20*math.Log10(0.5), r.PeakDB, tolerance)
}

func TestProcessNegativeSamplesUseMagnitude(t *testing.T) {
	pos, err := Process(filled(64, 0.25))
	require.NoError(t, err)
	neg, err := Process(filled(64, -0.25))
	require.NoError(t, err)
	assert.InDelta(t, pos.RMSDB, neg.RMSDB, 1e-9)
	assert.InDelta(t, pos.PeakDB, neg.PeakDB, 1e-9)
}

func TestProcessEmptyBlock(t *testing.T) {
	_, err := Process(nil)
	require.ErrorIs(t, err, ErrEmptyBlock)

	_, err = Process([]float32{})
	require.ErrorIs(t, err, ErrEmptyBlock)
}

func TestProcessAlwaysFinite(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 500 {
		n := 1 + rng.IntN(4096)
		block := make([]float32, n)
		scale := float32(math.Pow(10, rng.Float64()*12-10)) // 1e-10 .. 1e2
		for j := range block {
			block[j] = (rng.Float32()*2 - 1) * scale
		}
		r, err := Process(block)
		require.NoError(t, err)
		require.False(t, math.IsNaN(r.RMSDB) || math.IsInf(r.RMSDB, 0), "iteration %d: rms %v", i, r.RMSDB)
		require.False(t, math.IsNaN(r.PeakDB) || math.IsInf(r.PeakDB, 0), "iteration %d: peak %v", i, r.PeakDB)
	}
}

func TestProcessPathologicalSamples(t *testing.T) {
	block := []float32{
		float32(math.NaN()),
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		math.MaxFloat32,
		-math.MaxFloat32,
		math.SmallestNonzeroFloat32,
	}
	r, err := Process(block)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(r.RMSDB) || math.IsInf(r.RMSDB, 0))
	assert.False(t, math.IsNaN(r.PeakDB) || math.IsInf(r.PeakDB, 0))

	r, err = Process([]float32{float32(math.NaN())})
	require.NoError(t, err)
	assert.InDelta(t, -46.0, r.RMSDB, tolerance)
}

func TestPeakMonotonic(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for range 200 {
		a := make([]float32, 256)
		for i := range a {
			a[i] = (rng.Float32()*2 - 1) * 0.4
		}
		b := make([]float32, 256)
		copy(b, a)
		b[rng.IntN(len(b))] = 0.5 + rng.Float32()*0.5

		ra, err := Process(a)
		require.NoError(t, err)
		rb, err := Process(b)
		require.NoError(t, err)
		assert.Greater(t, rb.PeakDB, ra.PeakDB)
	}
}

func TestCalibrationOffsets(t *testing.T) {
	c := Calibration{ReferenceLevel: 0.5, OffsetDB: 100, PeakOffsetDB: 94, MinLinear: 1e-6}
	r, err := c.Process(filled(32, 0.5))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, r.RMSDB, tolerance)
	assert.InDelta(t, 94.0, r.PeakDB, tolerance)

	rmsFloor, peakFloor := c.Floor()
	silent, err := c.Process(make([]float32, 32))
	require.NoError(t, err)
	assert.InDelta(t, rmsFloor, silent.RMSDB, 1e-9)
	assert.InDelta(t, peakFloor, silent.PeakDB, 1e-9)
}

func TestCalibrationZeroValueFallsBackToDefaults(t *testing.T) {
	var c Calibration
	r, err := c.Process(make([]float32, 8))
	require.NoError(t, err)
	assert.InDelta(t, -140.0, r.RMSDB, tolerance)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, VerdictAbove, Compare(Reading{RMSDB: 70}, 70))
	assert.Equal(t, VerdictAbove, Compare(Reading{RMSDB: 80}, 70))
	assert.Equal(t, VerdictBelow, Compare(Reading{RMSDB: 69.9}, 70))
}

func BenchmarkProcess(b *testing.B) {
	block := make([]float32, 2048)
	for i := range block {
		block[i] = float32(math.Sin(float64(i) / 10))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		_, _ = Process(block)
	}
}
