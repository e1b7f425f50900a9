// Package hashtable is the hash-lookup collaborator the layout planner
// treats as a pure black box (spec's HashLookupSizer), plus the runtime
// open-addressed probe table that actually uses a planned Layout.
//
// A segment's hash-lookup array is a flat array of fixed-width slots, each
// packing a truncated hash ("key bits", used to skip non-matching slots
// without touching the entry itself) and a chunk index ("value bits",
// pointing at the entry's first chunk in the segment's entry space). Bits is
// deliberately not determined by strict uniqueness requirements — a few
// extra check bits beyond log2(entriesPerSegment) push the false-positive
// rate on a probe down without costing an extra byte, as long as the total
// still fits the slot width.
package hashtable

import "math/bits"

// hashCheckBits is the number of extra hash bits folded into each slot's
// key field beyond what's needed to address entriesPerSegment distinct
// entries. It trades a few bits of slot width for fewer false-positive
// probes into the entry space. Like the page-size-times-5 heuristic this
// planner borrows elsewhere, it is a tunable with no deeper derivation.
const hashCheckBits = 16

// ValueBits returns the number of bits needed to address any chunk index
// in a segment with chunksPerSegment chunks, including the "empty" sentinel
// value 0 (chunk indices are stored 1-based so 0 can mean "free slot").
func ValueBits(chunksPerSegment int64) int {
	if chunksPerSegment < 0 {
		chunksPerSegment = 0
	}
	return ceilLog2(chunksPerSegment + 1)
}

// KeyBits returns the number of hash-check bits stored per slot, given
// entriesPerSegment and the valueBits already committed to the chunk
// index field.
func KeyBits(entriesPerSegment int64, valueBits int) int {
	need := ceilLog2(entriesPerSegment) + hashCheckBits - valueBits
	if need < 0 {
		need = 0
	}
	return need
}

// EntrySize returns the slot width in bytes that fits keyBits+valueBits,
// rounded up to one of the two widths the runtime table supports.
func EntrySize(keyBits, valueBits int) int {
	if keyBits+valueBits <= 32 {
		return 4
	}
	return 8
}

// ceilLog2 returns the smallest k with 2^k >= n, for n >= 0. ceilLog2(0) and
// ceilLog2(1) are both 0.
func ceilLog2(n int64) int {
	if n <= 1 {
		return 0
	}
	return bits.Len64(uint64(n - 1))
}
