//go:build !cgo || noaudio

// This source is only used in cgo-less and noaudio builds.

package capture

import "errors"

// NativeBackendName identifies the audio library behind NativeSource.
const NativeBackendName = "none"

var errAudioDisabledCompilation = errors.New("native audio was disabled during compilation")

// NativeSource is a placeholder that never opens.
type NativeSource struct{}

// NewNativeSource returns a source whose Open always fails.
func NewNativeSource(string, int, int) *NativeSource {
	return &NativeSource{}
}

// Open always fails with ErrCaptureUnavailable.
func (*NativeSource) Open(BlockFunc) error {
	return errors.Join(ErrCaptureUnavailable, errAudioDisabledCompilation)
}

// Close is a no-op.
func (*NativeSource) Close() error { return nil }

// NativeDevices reports that native capture is unavailable.
func NativeDevices() ([]Device, error) {
	return nil, errors.Join(ErrCaptureUnavailable, errAudioDisabledCompilation)
}
