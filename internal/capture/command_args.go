package capture

import (
	"errors"
	"strconv"

	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

// Capture command errors.
var (
	ErrNoAudioDevice = errors.New("no audio input device found")
	ErrNoFFmpeg      = errors.New("ffmpeg not found")
)

// CommandConfig defines platform-specific capture command configuration.
type CommandConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates if this platform uses FFmpeg for capture.
	UsesFFmpeg bool

	// BuildArgs returns the command arguments for mono s16le capture at sampleRate.
	BuildArgs func(device string, sampleRate int) []string
}

// BuildCaptureCommand returns the command and arguments for mono audio capture.
// If device is empty, it uses the platform default or the first detected device.
// The ffmpegPath parameter is used on platforms that use FFmpeg for capture.
func BuildCaptureCommand(device, ffmpegPath string, sampleRate int) (cmd string, args []string, err error) {
	cfg := platformCommand()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := CommandDevices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	command := cfg.Command
	if cfg.UsesFFmpeg {
		if command = util.ResolveFFmpegPath(ffmpegPath); command == "" {
			return "", nil, ErrNoFFmpeg
		}
	}

	return command, cfg.BuildArgs(device, sampleRate), nil
}

func rateArg(sampleRate int) string {
	return strconv.Itoa(sampleRate)
}
