// Package segment is the runtime counterpart of a planned Layout: the
// per-segment header (size, deleted count, free-list cursor, and the
// reader/update/writer lock word) that lives at the front of each
// segment's region inside the memory-mapped file, plus the lock
// implementation segment.Header exposes over it.
//
// This generalizes SegmentHeader from Chronicle Map's locking model: a
// segment supports concurrent readers, a single "update" lock holder that
// can coexist with readers (used for in-place mutation that doesn't move
// entries), and a single exclusive writer lock that excludes everyone.
package segment

import (
	"sync/atomic"
	"unsafe"
)

// Header sizes a Layout ever picks. Bytes beyond the three counters and
// the lock word are reserved padding that spaces headers apart on cache
// lines to reduce false sharing between adjacent segments.
const (
	HeaderBytes32  = 32
	HeaderBytes64  = 64
	HeaderBytes128 = 128
	HeaderBytes192 = 192
)

const (
	offsetSize               = 0
	offsetDeleted            = 8
	offsetNextPosToSearch    = 16
	offsetLockWord           = 24
)

// Header overlays a segment's header fields onto a caller-owned byte
// region — typically a window into an mmapstore.Region. buf must be at
// least offsetLockWord+8 bytes; Layout.SegmentHeaderBytes is always large
// enough.
type Header struct {
	buf []byte
}

// New wraps buf as a segment header. Fields are zero (size 0, no
// deletions, empty lock) until initialized by the caller or already
// populated by a prior run against the same backing file.
func New(buf []byte) *Header {
	if len(buf) < offsetLockWord+8 {
		panic("segment: header buffer too small")
	}
	return &Header{buf: buf}
}

func (h *Header) int64At(offset int) *int64 {
	return (*int64)(unsafe.Pointer(&h.buf[offset]))
}

// Size returns the number of entries currently stored in the segment.
func (h *Header) Size() int64 {
	return atomic.LoadInt64(h.int64At(offsetSize))
}

// AddSize adjusts the entry count by delta (negative to decrement) and
// returns the new value.
func (h *Header) AddSize(delta int64) int64 {
	return atomic.AddInt64(h.int64At(offsetSize), delta)
}

// Deleted returns the number of entries removed from the segment.
func (h *Header) Deleted() int64 {
	return atomic.LoadInt64(h.int64At(offsetDeleted))
}

// AddDeleted adjusts the deleted-slot count by delta.
func (h *Header) AddDeleted(delta int64) int64 {
	return atomic.AddInt64(h.int64At(offsetDeleted), delta)
}

// NextPosToSearchFrom returns the free-list cursor: the chunk index a
// fresh allocation should start probing from, to avoid rescanning chunks
// known to be occupied.
func (h *Header) NextPosToSearchFrom() int64 {
	return atomic.LoadInt64(h.int64At(offsetNextPosToSearch))
}

// SetNextPosToSearchFrom updates the free-list cursor.
func (h *Header) SetNextPosToSearchFrom(pos int64) {
	atomic.StoreInt64(h.int64At(offsetNextPosToSearch), pos)
}

func (h *Header) lockWord() *int64 {
	return h.int64At(offsetLockWord)
}
