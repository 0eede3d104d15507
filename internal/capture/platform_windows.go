//go:build windows

package capture

import (
	"regexp"
	"strings"
)

var dshowAudioInput = regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`)

func platformCommand() CommandConfig {
	return CommandConfig{
		Command:       "ffmpeg",
		DefaultDevice: "", // Auto-detect, no safe default on Windows
		UsesFFmpeg:    true,
		BuildArgs:     buildWindowsArgs,
	}
}

func buildWindowsArgs(device string, sampleRate int) []string {
	return buildFFmpegCaptureArgs("dshow", device, sampleRate)
}

// CommandDevices returns the DirectShow audio inputs reported by FFmpeg.
func CommandDevices() []Device {
	// FFmpeg versions differ in whether they print a section header, so
	// inputs are matched by their "(audio)" suffix instead.
	lister := deviceLister{
		args:    []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		pattern: dshowAudioInput,
		device: func(m []string) (Device, bool) {
			name := strings.TrimSpace(m[1])
			return Device{ID: "audio=" + name, Name: name}, name != ""
		},
	}
	return lister.list()
}
