package util

import (
	"cmp"
	"os/exec"
)

// ResolveFFmpegPath finds the FFmpeg binary, either the configured one or
// "ffmpeg" from PATH. It returns "" when neither is executable.
func ResolveFFmpegPath(configured string) string {
	found, err := exec.LookPath(cmp.Or(configured, "ffmpeg"))
	if err != nil {
		return ""
	}
	return cmp.Or(configured, found)
}
