//go:build linux

package capture

func platformCommand() CommandConfig {
	return CommandConfig{
		Command:       "arecord",
		DefaultDevice: "default",
		BuildArgs:     buildLinuxArgs,
	}
}

func buildLinuxArgs(device string, sampleRate int) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", rateArg(sampleRate),
		"-c", "1",
		"-t", "raw",
		"-q",
		"-",
	}
}

// CommandDevices returns the capture cards reported by arecord.
func CommandDevices() []Device {
	lister := deviceLister{
		args:     []string{"arecord", "-l"},
		pattern:  arecordCard,
		device:   arecordDevice,
		fallback: []Device{{ID: "default", Name: "System default", IsDefault: true}},
	}
	return lister.list()
}
