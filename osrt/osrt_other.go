//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package osrt

import "syscall"

// LastOSError returns the system's text for errno.
func LastOSError(errno syscall.Errno) (string, error) {
	if errno == 0 {
		return "", ErrNoError
	}
	return errno.Error(), nil
}

// NanoTime returns a monotonic clock reading in nanoseconds.
func NanoTime() uint64 {
	return fallbackNanoTime()
}
