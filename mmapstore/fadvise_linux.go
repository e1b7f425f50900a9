//go:build linux

package mmapstore

import "golang.org/x/sys/unix"

// fadviseRandom hints to the kernel that the region will be accessed with
// no sequential pattern, which a hash table never has. Applied once after
// mapping. Best-effort: errors are silently ignored.
func fadviseRandom(fd int, length int64) {
	_ = unix.Fadvise(fd, 0, length, unix.FADV_RANDOM)
}
