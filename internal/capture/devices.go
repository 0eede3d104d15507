package capture

import (
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// deviceLister lists command-backend inputs by running a platform tool and
// matching its output line by line.
type deviceLister struct {
	args []string
	// from and until bound the audio section of the output. An empty from
	// means the whole output is scanned.
	from, until string
	pattern     *regexp.Regexp
	// device builds an entry from a pattern match; ok false skips the line.
	device   func(m []string) (d Device, ok bool)
	fallback []Device
}

// list runs the tool, returning the fallback when nothing usable is found.
func (p *deviceLister) list() []Device {
	if len(p.args) == 0 {
		return p.fallback
	}
	// Listing tools often exit non-zero after printing, so only empty output fails.
	out, err := exec.Command(p.args[0], p.args[1:]...).CombinedOutput()
	if err != nil && len(out) == 0 {
		slog.Warn("failed to list audio devices", "command", p.args[0], "error", err)
		return p.fallback
	}
	if devices := p.parse(string(out)); len(devices) > 0 {
		return devices
	}
	return p.fallback
}

// parse extracts devices from tool output. Repeated IDs, such as a card with
// several subdevices, are listed once.
func (p *deviceLister) parse(output string) []Device {
	var devices []Device
	seen := make(map[string]bool)
	inside := p.from == ""

	for line := range strings.Lines(output) {
		switch {
		case p.from != "" && strings.Contains(line, p.from):
			inside = true
			continue
		case p.until != "" && strings.Contains(line, p.until):
			inside = false
			continue
		case !inside, strings.Contains(line, "Alternative name"):
			continue
		}

		m := p.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if d, ok := p.device(m); ok && !seen[d.ID] {
			seen[d.ID] = true
			devices = append(devices, d)
		}
	}
	return devices
}

// arecordCard matches "card N: ID [Name]" lines of arecord -l.
var arecordCard = regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`)

func arecordDevice(m []string) (Device, bool) {
	return Device{ID: "default:CARD=" + m[2], Name: m[3]}, true
}
