package capture

import (
	"context"
	"math"
	"time"
)

// ToneSource generates a sine wave at a steady block cadence.
// It stands in for a microphone on machines without audio input.
type ToneSource struct {
	// Frequency is the tone frequency in Hz.
	Frequency float64
	// Amplitude is the peak amplitude, 1.0 being full scale.
	Amplitude float64
	// SampleRate is the nominal sample rate used for phase and pacing.
	SampleRate int
	// BlockSize is the number of frames per block.
	BlockSize int
	// Interval overrides the delivery period. Zero derives it from BlockSize and SampleRate.
	Interval time.Duration

	p producer
}

// NewToneSource creates a tone source with the default sample rate and block size.
func NewToneSource(frequency, amplitude float64) *ToneSource {
	return &ToneSource{
		Frequency:  frequency,
		Amplitude:  amplitude,
		SampleRate: DefaultSampleRate,
		BlockSize:  DefaultBlockSize,
	}
}

// Open starts generating blocks.
func (s *ToneSource) Open(fn BlockFunc) error {
	rate := s.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	size := s.BlockSize
	if size <= 0 {
		size = DefaultBlockSize
	}
	interval := s.Interval
	if interval <= 0 {
		interval = BlockDuration(size, rate)
	}
	step := 2 * math.Pi * s.Frequency / float64(rate)
	amp := s.Amplitude

	return s.p.start(func(ctx context.Context) {
		block := make([]float32, size)
		var phase float64

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			for i := range block {
				block[i] = float32(amp * math.Sin(phase))
				phase += step
			}
			phase = math.Mod(phase, 2*math.Pi)

			if ctx.Err() != nil {
				return
			}
			fn(block, size)
		}
	})
}

// Close stops the generator and waits for the last block to be delivered.
func (s *ToneSource) Close() error {
	s.p.stop()
	return nil
}
