//go:build windows

package util

import "os"

// ShutdownSignals are the signals that stop the meter cleanly.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal is a no-op: child processes cannot be interrupted on
// Windows, so the command's WaitDelay ends them.
func GracefulSignal(_ *os.Process) error {
	return nil
}
