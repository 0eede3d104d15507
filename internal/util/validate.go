package util

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// errNotWritable hides filesystem details from API clients; the cause is logged.
var errNotWritable = errors.New("path is not writable")

// IsConfigured reports whether none of values is empty.
func IsConfigured(values ...string) bool {
	return !slices.Contains(values, "")
}

// ValidatePath rejects empty paths and any path containing "..", so a
// configured log path cannot climb out of its directory.
func ValidatePath(field, path string) error {
	switch {
	case path == "":
		return fmt.Errorf("%s: is required", field)
	case strings.Contains(path, ".."):
		return fmt.Errorf("%s: path cannot contain '..'", field)
	}
	return nil
}

// CheckPathWritable creates dir if needed and proves it is writable by
// writing and removing a scratch file.
func CheckPathWritable(dir string) error {
	fail := func(step string, err error) error {
		slog.Error("path writability check failed", "path", dir, "step", step, "error", err)
		return errNotWritable
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail("mkdir", err)
	}
	f, err := os.CreateTemp(dir, ".levelmeter-write-test-*")
	if err != nil {
		return fail("create", err)
	}
	name := f.Name()

	_, werr := f.Write(make([]byte, 1024))
	if err := errors.Join(werr, f.Close()); err != nil {
		_ = os.Remove(name)
		return fail("write", err)
	}
	if err := os.Remove(name); err != nil {
		return fail("remove", err)
	}
	return nil
}
