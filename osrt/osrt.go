// Package osrt wraps the operating system services used by runtime
// programs: working directory, error text, directory listing and clocks.
package osrt

import (
	"errors"
	"os"
	"sort"
	"time"
)

// ErrNoError is returned by LastOSError for a zero errno.
var ErrNoError = errors.New("no error")

// Getcwd returns the current working directory.
func Getcwd() (string, error) {
	return os.Getwd()
}

// ListFiles returns the names in the directory at path, sorted. Any error
// yields an empty listing.
func ListFiles(path string) []string {
	entries, err := os.ReadDir(path)
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// FileIsDir reports whether path names a directory.
func FileIsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// GetTime returns the wall clock as seconds and microseconds since the
// Unix epoch.
func GetTime() (sec, usec uint32) {
	return splitTime(time.Now())
}

func splitTime(now time.Time) (sec, usec uint32) {
	return uint32(now.Unix()), uint32(now.Nanosecond() / 1000)
}

var processStart = time.Now()

// fallbackNanoTime measures on Go's monotonic clock from process start.
func fallbackNanoTime() uint64 {
	return uint64(time.Since(processStart).Nanoseconds())
}
