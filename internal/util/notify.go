package util

import (
	"log/slog"
	"time"
)

// LogNotifyResult runs one channel delivery and logs how it went.
func LogNotifyResult(fn func() error, channel string) {
	start := time.Now()
	if err := fn(); err != nil {
		slog.Error("notification failed", "channel", channel, "error", err)
		return
	}
	slog.Info("notification sent", "channel", channel, "took", time.Since(start).Round(time.Millisecond))
}
