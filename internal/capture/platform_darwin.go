//go:build darwin

package capture

import (
	"regexp"
	"strings"
)

// avfoundationInput matches "[AVFoundation indev @ 0x...] [0] Built-in Microphone".
var avfoundationInput = regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`)

func platformCommand() CommandConfig {
	return CommandConfig{
		Command:       "ffmpeg",
		DefaultDevice: ":0",
		UsesFFmpeg:    true,
		BuildArgs:     buildDarwinArgs,
	}
}

func buildDarwinArgs(device string, sampleRate int) []string {
	return buildFFmpegCaptureArgs("avfoundation", device, sampleRate)
}

// CommandDevices returns the AVFoundation audio inputs reported by FFmpeg.
func CommandDevices() []Device {
	lister := deviceLister{
		args:    []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		from:    "AVFoundation audio devices:",
		until:   "AVFoundation video devices:",
		pattern: avfoundationInput,
		device: func(m []string) (Device, bool) {
			return Device{ID: ":" + m[1], Name: strings.TrimSpace(m[2])}, true
		},
	}
	return lister.list()
}
