// Package mmapstore is the memory-mapped I/O layer the layout planner
// treats as an external collaborator: it turns a Layout's total byte size
// into either a file-backed or anonymous Region, pre-allocating disk
// blocks up front so a later write never SIGBUSes on a full disk.
package mmapstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// ErrClosed is returned by any Region method called after Close.
var ErrClosed = errors.New("mmapstore: region is closed")

// Region is a memory-mapped byte span backing a map's entire segment
// area: segment headers, hash-lookup arrays, and entry space, all in one
// contiguous mapping sized by Layout at create time.
type Region struct {
	file      *os.File
	handle    mmap.MMap
	anonymous bool
	closed    bool
}

// Create pre-allocates a file of exactly size bytes at path and maps it
// read-write. An existing file at path is truncated and reused so
// reopening a previously persisted map can skip this path in favor of
// Open.
func Create(path string, size int64) (*Region, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mmapstore: create %s: %w", path, err)
	}
	if err := fallocateFile(file, size); err != nil {
		return nil, errors.Join(fmt.Errorf("mmapstore: preallocate %s: %w", path, err), file.Close())
	}
	handle, err := mmap.MapRegion(file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("mmapstore: map %s: %w", path, err), file.Close())
	}
	fadviseRandom(int(file.Fd()), size)
	return &Region{file: file, handle: handle}, nil
}

// Open maps an existing file at path read-write without resizing it. The
// caller is responsible for matching a Layout produced by the same
// configuration that created the file; mmapstore does not validate size
// against any header.
func Open(path string) (*Region, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mmapstore: open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("mmapstore: stat %s: %w", path, err), file.Close())
	}
	handle, err := mmap.MapRegion(file, int(info.Size()), mmap.RDWR, 0, 0)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("mmapstore: map %s: %w", path, err), file.Close())
	}
	fadviseRandom(int(file.Fd()), info.Size())
	return &Region{file: file, handle: handle}, nil
}

// CreateAnonymous maps size bytes of anonymous, process-private memory —
// used when a map is configured without a backing path. mmap-go has no
// anonymous-mapping mode, so this is backed by an unlinked temp file,
// which on Linux and other POSIX systems behaves like anonymous memory
// (no directory entry survives, pages are reclaimed on close) while still
// going through the same fallocate/mmap path as a persisted region.
func CreateAnonymous(size int64) (*Region, error) {
	file, err := os.CreateTemp("", "chronomap-anon-*")
	if err != nil {
		return nil, fmt.Errorf("mmapstore: create anonymous backing file: %w", err)
	}
	if err := os.Remove(file.Name()); err != nil {
		return nil, errors.Join(fmt.Errorf("mmapstore: unlink anonymous backing file: %w", err), file.Close())
	}
	if err := fallocateFile(file, size); err != nil {
		return nil, errors.Join(fmt.Errorf("mmapstore: preallocate anonymous region: %w", err), file.Close())
	}
	handle, err := mmap.MapRegion(file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("mmapstore: map anonymous region: %w", err), file.Close())
	}
	return &Region{file: file, handle: handle, anonymous: true}, nil
}

// Bytes returns the mapped region as a byte slice. The slice is valid
// until Close.
func (r *Region) Bytes() []byte {
	return []byte(r.handle)
}

// Persisted reports whether this region is backed by a named,
// user-visible file rather than an anonymous temp file — used to resolve
// the checksumEntries "if-persisted" tri-state.
func (r *Region) Persisted() bool {
	return !r.anonymous
}

// Prefault hints to the kernel that the whole region should be
// pre-faulted into the process's page tables for writing, trading a
// slower first touch for no page faults during the hot path that follows.
func (r *Region) Prefault() {
	prefaultRegion(r.Bytes())
}

// Flush writes any modified pages back to the backing file. Anonymous
// regions are flushed the same way, to their unlinked temp file.
func (r *Region) Flush() error {
	if r.closed {
		return ErrClosed
	}
	return r.handle.Flush()
}

// Close unmaps the region and closes its backing file.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	unmapErr := r.handle.Unmap()
	closeErr := r.file.Close()
	return errors.Join(unmapErr, closeErr)
}

