//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals are the signals that stop the meter cleanly.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// GracefulSignal asks a capture child process to exit, as Ctrl-C would.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
