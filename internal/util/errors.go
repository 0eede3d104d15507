package util

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// maxErrorLineLength caps stderr excerpts shown in status output.
const maxErrorLineLength = 200

// WrapError prefixes err with the operation that failed. A nil err stays nil.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// ExtractLastError returns the last non-blank line of a child process's
// stderr, truncated to maxErrorLineLength.
func ExtractLastError(stderr string) string {
	var last string
	for line := range strings.Lines(stderr) {
		if line = strings.TrimSpace(line); line != "" {
			last = line
		}
	}
	if len(last) > maxErrorLineLength {
		return last[:maxErrorLineLength] + "..."
	}
	return last
}

// SafeCloseFunc returns a func for defer that closes c and logs a failure
// under name: defer util.SafeCloseFunc(f, "event log")().
func SafeCloseFunc(c io.Closer, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close", "resource", name, "error", err)
		}
	}
}
