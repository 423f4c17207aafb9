//go:build linux || darwin || freebsd || netbsd || openbsd

package osrt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// LastOSError returns the system's text for errno.
func LastOSError(errno syscall.Errno) (string, error) {
	if errno == 0 {
		return "", ErrNoError
	}
	return unix.ErrnoName(errno) + ": " + errno.Error(), nil
}

// NanoTime returns a monotonic clock reading in nanoseconds.
func NanoTime() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNanoTime()
	}
	return uint64(ts.Nano())
}
