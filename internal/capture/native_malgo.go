//go:build cgo && !noaudio && !portaudio

package capture

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// NativeBackendName identifies the audio library behind NativeSource.
const NativeBackendName = "malgo"

// NativeSource captures from the platform audio API through miniaudio.
// Blocks are delivered on the miniaudio device thread.
type NativeSource struct {
	device     string
	sampleRate int
	blockSize  int

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	dev *malgo.Device
}

// NewNativeSource creates a native capture source. Device is a hex device ID
// as returned by NativeDevices; empty selects the system default input.
func NewNativeSource(device string, sampleRate, blockSize int) *NativeSource {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &NativeSource{device: device, sampleRate: sampleRate, blockSize: blockSize}
}

// Open initializes the capture device and starts it.
func (s *NativeSource) Open(fn BlockFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev != nil {
		return ErrSourceOpen
	}

	var deviceID malgo.DeviceID
	if s.device != "" {
		raw, err := hex.DecodeString(s.device)
		if err != nil || len(raw) > len(deviceID) {
			return fmt.Errorf("%w: invalid device id %q", ErrCaptureUnavailable, s.device)
		}
		copy(deviceID[:], raw)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init audio context: %w", ErrCaptureUnavailable, err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.PeriodSizeInFrames = uint32(s.blockSize)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	if s.device != "" {
		cfg.Capture.DeviceID = deviceID.Pointer()
	}
	cfg.Alsa.NoMMap = 1

	blocks := newBlocker(s.blockSize, fn)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			blocks.writeF32LE(input)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(mctx)
		return fmt.Errorf("%w: init capture device: %w", ErrCaptureUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return fmt.Errorf("%w: start capture device: %w", ErrCaptureUnavailable, err)
	}

	s.ctx = mctx
	s.dev = dev
	return nil
}

// Close stops the device. miniaudio guarantees the data callback has returned
// and will not be called again once Stop returns.
func (s *NativeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return nil
	}

	err := s.dev.Stop()
	s.dev.Uninit()
	freeContext(s.ctx)

	s.dev = nil
	s.ctx = nil

	if err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// NativeDevices lists the capture devices known to miniaudio.
func NativeDevices() ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	defer freeContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	seen := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		id := hex.EncodeToString(info.ID[:])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		devices = append(devices, Device{
			ID:        id,
			Name:      info.Name(),
			IsDefault: info.IsDefault == 1,
		})
	}
	return devices, nil
}
