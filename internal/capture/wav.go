package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE format tag for integer PCM.
const wavFormatPCM = 1

// WAVSource replays a PCM WAV file in real time. Only the first channel is used.
type WAVSource struct {
	// Path is the WAV file to replay.
	Path string
	// Loop restarts from the beginning at end of file. Without it delivery
	// ends after the final (possibly partial) block.
	Loop bool
	// BlockSize is the number of frames per block.
	BlockSize int
	// Interval overrides the delivery period. Zero derives it from the file's sample rate.
	Interval time.Duration

	p producer

	mu        sync.Mutex
	lastError string
}

// NewWAVSource creates a WAV replay source with the default block size.
func NewWAVSource(path string, loop bool) *WAVSource {
	return &WAVSource{Path: path, Loop: loop, BlockSize: DefaultBlockSize}
}

// Open decodes the file and starts delivering blocks.
func (s *WAVSource) Open(fn BlockFunc) error {
	samples, rate, err := readWAV(s.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
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
	loop := s.Loop
	path := s.Path

	s.setLastError("")
	slog.Info("replaying wav file", "path", path, "sample_rate", rate, "frames", len(samples), "loop", loop)

	return s.p.start(func(ctx context.Context) {
		block := make([]float32, size)
		pos := 0

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			n := copy(block, samples[pos:])
			pos += n
			for loop && n < size {
				pos = copy(block[n:], samples)
				n += pos
			}
			if n == 0 || ctx.Err() != nil {
				return
			}

			fn(block[:n], n)

			if !loop && pos >= len(samples) {
				slog.Info("wav replay finished", "path", path)
				s.setLastError("Replay reached end of " + path)
				return
			}
		}
	})
}

// Close stops replay and waits for the last block to be delivered.
func (s *WAVSource) Close() error {
	s.p.stop()
	return nil
}

// LastError reports why block delivery ended while the source is still open.
func (s *WAVSource) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *WAVSource) setLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

// readWAV loads the first channel of a PCM WAV file as float samples in [-1, 1).
func readWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close wav file", "path", path, "error", err)
		}
	}()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%s is not a valid wav file", path)
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, 0, fmt.Errorf("unsupported wav format %d, only integer PCM is supported", d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(d.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	if channels <= 0 {
		channels = 1
	}
	depth := int(d.BitDepth)
	if depth <= 0 || depth > 32 {
		return nil, 0, fmt.Errorf("unsupported wav bit depth %d", depth)
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, 0, fmt.Errorf("%s contains no audio", path)
	}

	samples := make([]float32, frames)
	scale := float64(int64(1) << (depth - 1))
	for i := range samples {
		v := buf.Data[i*channels]
		if depth == 8 {
			v -= 128 // 8-bit WAV is unsigned
		}
		samples[i] = float32(float64(v) / scale)
	}

	return samples, int(d.SampleRate), nil
}
