package capture

import (
	"fmt"
	"time"
)

// Backend selects a capture source implementation.
type Backend string

// Supported capture backends.
const (
	BackendNative  Backend = "native"  // malgo, or PortAudio with -tags portaudio
	BackendCommand Backend = "command" // arecord on Linux, FFmpeg elsewhere
	BackendWAV     Backend = "wav"     // real-time replay of a WAV file
	BackendTone    Backend = "tone"    // synthetic sine wave
)

// Config describes which source to build and how.
type Config struct {
	Backend    Backend
	Device     string
	SampleRate int
	BlockSize  int
	FFmpegPath string

	WAVPath string
	WAVLoop bool

	ToneHz        float64
	ToneAmplitude float64

	// Interval overrides the block period of the wav and tone backends.
	Interval time.Duration
}

// New builds the Source selected by cfg.Backend.
//
//nolint:gocritic // hugeParam: called once at startup
func New(cfg Config) (Source, error) {
	switch cfg.Backend {
	case BackendNative, "":
		return NewNativeSource(cfg.Device, cfg.SampleRate, cfg.BlockSize), nil
	case BackendCommand:
		return NewCommandSource(cfg.Device, cfg.FFmpegPath, cfg.SampleRate, cfg.BlockSize), nil
	case BackendWAV:
		if cfg.WAVPath == "" {
			return nil, fmt.Errorf("wav backend requires a file path")
		}
		src := NewWAVSource(cfg.WAVPath, cfg.WAVLoop)
		if cfg.BlockSize > 0 {
			src.BlockSize = cfg.BlockSize
		}
		src.Interval = cfg.Interval
		return src, nil
	case BackendTone:
		src := NewToneSource(cfg.ToneHz, cfg.ToneAmplitude)
		if cfg.SampleRate > 0 {
			src.SampleRate = cfg.SampleRate
		}
		if cfg.BlockSize > 0 {
			src.BlockSize = cfg.BlockSize
		}
		src.Interval = cfg.Interval
		return src, nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Backend)
	}
}

// ListDevices returns the input devices selectable for backend.
// File and synthetic backends have no devices.
func ListDevices(backend Backend) ([]Device, error) {
	switch backend {
	case BackendNative, "":
		return NativeDevices()
	case BackendCommand:
		return CommandDevices(), nil
	default:
		return nil, nil
	}
}
