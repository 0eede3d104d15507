package util

import (
	"fmt"
	"time"
)

// humanTimeFormat is used in e-mail bodies and the status page.
const humanTimeFormat = "2 Jan 2006 15:04 MST"

// HumanTime returns the local time now in humanTimeFormat.
func HumanTime() string {
	return time.Now().Format(humanTimeFormat)
}

// FormatHumanTime renders an RFC3339 build or expiry timestamp in local time.
// Values that do not parse are returned unchanged.
func FormatHumanTime(rfc3339 string) string {
	switch rfc3339 {
	case "", "unknown":
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return t.Local().Format(humanTimeFormat)
}

// FormatDuration renders an episode length with its two largest units:
// "45s", "2m 34s" or "1h 23m".
func FormatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
