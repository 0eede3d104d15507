//go:build cgo && portaudio && !noaudio

package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// NativeBackendName identifies the audio library behind NativeSource.
const NativeBackendName = "portaudio"

// NativeSource captures through PortAudio. Blocks are delivered on the
// PortAudio callback thread with exactly blockSize frames each.
type NativeSource struct {
	device     string
	sampleRate int
	blockSize  int

	mu     sync.Mutex
	stream *portaudio.Stream
}

// NewNativeSource creates a native capture source. Device is a PortAudio device
// name as returned by NativeDevices; empty selects the default input.
func NewNativeSource(device string, sampleRate, blockSize int) *NativeSource {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &NativeSource{device: device, sampleRate: sampleRate, blockSize: blockSize}
}

// Open initializes PortAudio and starts an input stream.
func (s *NativeSource) Open(fn BlockFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return ErrSourceOpen
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize portaudio: %w", ErrCaptureUnavailable, err)
	}

	callback := func(in []float32) {
		fn(in, len(in))
	}

	stream, err := s.openStream(callback)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: open input stream: %w", ErrCaptureUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: start input stream: %w", ErrCaptureUnavailable, err)
	}

	s.stream = stream
	return nil
}

func (s *NativeSource) openStream(callback func(in []float32)) (*portaudio.Stream, error) {
	if s.device == "" {
		return portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), s.blockSize, callback)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name != s.device || dev.MaxInputChannels < 1 {
			continue
		}
		params := portaudio.LowLatencyParameters(dev, nil)
		params.Input.Channels = 1
		params.SampleRate = float64(s.sampleRate)
		params.FramesPerBuffer = s.blockSize
		return portaudio.OpenStream(params, callback)
	}
	return nil, fmt.Errorf("input device %q not found", s.device)
}

// Close stops the stream. PortAudio waits for the running callback to return
// before Stop does.
func (s *NativeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate portaudio: %w", err))
	}
	s.stream = nil

	return errors.Join(errs...)
}

// NativeDevices lists PortAudio devices with at least one input channel.
func NativeDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	defer func() { _ = portaudio.Terminate() }()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var devices []Device
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		devices = append(devices, Device{
			ID:        info.Name,
			Name:      info.Name,
			IsDefault: def != nil && def.Name == info.Name,
		})
	}
	return devices, nil
}
