//go:build !linux && !darwin && !windows

package capture

func platformCommand() CommandConfig {
	return CommandConfig{
		Command:       "ffmpeg",
		DefaultDevice: "/dev/dsp",
		UsesFFmpeg:    true,
		BuildArgs: func(device string, sampleRate int) []string {
			return buildFFmpegCaptureArgs("oss", device, sampleRate)
		},
	}
}

// CommandDevices returns the default OSS device.
func CommandDevices() []Device {
	return []Device{{ID: "/dev/dsp", Name: "OSS default", IsDefault: true}}
}
