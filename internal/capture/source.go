// Package capture provides audio input sources that deliver fixed-size blocks
// of mono float samples on their own goroutine or audio thread.
package capture

import (
	"errors"
	"time"
)

const (
	// DefaultBlockSize is the number of frames per delivered block.
	DefaultBlockSize = 2048
	// DefaultSampleRate is the capture sample rate in Hz.
	DefaultSampleRate = 48000
)

// Sentinel errors for capture sources.
var (
	// ErrCaptureUnavailable is returned when the platform cannot supply audio input.
	ErrCaptureUnavailable = errors.New("audio capture unavailable")
	// ErrSourceOpen is returned when Open is called on a source that is already open.
	ErrSourceOpen = errors.New("capture source already open")
)

// BlockFunc receives one block of mono samples. The samples slice is only valid
// for the duration of the call; sources reuse its backing array.
type BlockFunc func(samples []float32, frameCount int)

// Source is an audio input that delivers blocks to a BlockFunc until closed.
//
// Open starts delivery and fails with an error wrapping ErrCaptureUnavailable when
// no input can be opened. Close stops delivery; once it returns, the BlockFunc
// passed to Open is never called again. Close on a closed source is a no-op.
type Source interface {
	Open(fn BlockFunc) error
	Close() error
}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier passed back through the audio.device setting.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
	// IsDefault reports whether the platform considers this the default input.
	IsDefault bool `json:"is_default,omitzero"`
}

// BlockDuration returns the wall-clock duration of one block.
func BlockDuration(blockSize, sampleRate int) time.Duration {
	if blockSize <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(blockSize) * time.Second / time.Duration(sampleRate)
}
