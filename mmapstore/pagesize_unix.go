//go:build linux || darwin

package mmapstore

import "golang.org/x/sys/unix"

// PageSize returns the OS page size, used by the layout planner's
// page-efficiency guard and segment-header sizing.
func PageSize() int64 {
	return int64(unix.Getpagesize())
}
