package hashtable

import (
	"encoding/binary"

	"github.com/sachin-handiekar/chronomap/internal/bits"
)

// Table is a segment's hash-lookup array: a flat, linearly-probed array of
// fixed-width slots over a caller-owned byte buffer (typically a window
// into a memory-mapped segment). Each occupied slot packs a truncated hash
// ("check bits", low bits of the slot) and a 1-based chunk index ("value
// bits", high bits); index 0 means free.
//
// Table does no key comparison and does not own or read entry bytes — it
// only answers "which chunk index (if any) might hold a key with this
// hash", leaving equality checks on the entry itself to the caller. Slots
// come in the two widths {4,8} the layout planner ever chooses.
type Table struct {
	buf       []byte
	slots     int64
	slotBytes int
	keyBits   int
	valueBits int
	keyMask   uint64
}

// New wraps buf as a hash-lookup array of the given capacity and slot
// width. len(buf) must be >= slots*slotBytes.
func New(buf []byte, slots int64, slotBytes, keyBits, valueBits int) *Table {
	if slotBytes != 4 && slotBytes != 8 {
		panic("hashtable: slotBytes must be 4 or 8")
	}
	if int64(len(buf)) < slots*int64(slotBytes) {
		panic("hashtable: buf too small for slots*slotBytes")
	}
	var mask uint64
	if keyBits > 0 {
		mask = (uint64(1) << keyBits) - 1
	}
	return &Table{
		buf:       buf,
		slots:     slots,
		slotBytes: slotBytes,
		keyBits:   keyBits,
		valueBits: valueBits,
		keyMask:   mask,
	}
}

func (t *Table) readSlot(i int64) (checkBits uint64, chunkIndex int64) {
	off := i * int64(t.slotBytes)
	var raw uint64
	if t.slotBytes == 4 {
		raw = uint64(binary.LittleEndian.Uint32(t.buf[off:]))
	} else {
		raw = binary.LittleEndian.Uint64(t.buf[off:])
	}
	checkBits = raw & t.keyMask
	chunkIndex = int64(raw >> t.keyBits)
	return
}

func (t *Table) writeSlot(i int64, checkBits uint64, chunkIndex int64) {
	off := i * int64(t.slotBytes)
	raw := (checkBits & t.keyMask) | (uint64(chunkIndex) << t.keyBits)
	if t.slotBytes == 4 {
		binary.LittleEndian.PutUint32(t.buf[off:], uint32(raw))
	} else {
		binary.LittleEndian.PutUint64(t.buf[off:], raw)
	}
}

// startIndex maps hash to the first slot a probe for it examines.
func (t *Table) startIndex(hash uint64) int64 {
	return int64(bits.FastRange64(hash, uint64(t.slots)))
}

func (t *Table) checkBitsOf(hash uint64) uint64 {
	return (hash >> 32) & t.keyMask
}

// Probe calls visit for every occupied slot that might hold hash, starting
// at hash's home slot and walking forward with wraparound, until visit
// returns true (found) or an empty slot is reached (exhausted). It returns
// the slot index visit accepted, or -1 if the probe ran out of occupied
// slots.
func (t *Table) Probe(hash uint64, visit func(chunkIndex int64) bool) int64 {
	check := t.checkBitsOf(hash)
	start := t.startIndex(hash)
	for step := int64(0); step < t.slots; step++ {
		i := (start + step) % t.slots
		bitsAtSlot, chunkIndex := t.readSlot(i)
		if chunkIndex == 0 {
			return -1
		}
		if bitsAtSlot == check && visit(chunkIndex) {
			return i
		}
	}
	return -1
}

// Insert places chunkIndex (1-based; callers must not pass 0) into the
// first free slot on hash's probe sequence. Returns the slot
// index, or -1 if the table is full.
func (t *Table) Insert(hash uint64, chunkIndex int64) int64 {
	if chunkIndex <= 0 {
		panic("hashtable: chunkIndex must be 1-based and positive")
	}
	check := t.checkBitsOf(hash)
	start := t.startIndex(hash)
	for step := int64(0); step < t.slots; step++ {
		i := (start + step) % t.slots
		_, existing := t.readSlot(i)
		if existing == 0 {
			t.writeSlot(i, check, chunkIndex)
			return i
		}
	}
	return -1
}

// Remove clears the slot at index i, opening it for reuse. Linear probing
// with a hard clear (rather than a tombstone) is only correct if the
// caller then re-inserts every entry in the run of occupied slots after
// i, so that no probe sequence is cut short by the new gap; chronomap's
// Map.Remove does so.
func (t *Table) Remove(i int64) {
	t.writeSlot(i, 0, 0)
}

// ChunkAt returns the chunk index stored at slot i, as returned by a prior
// Probe or Insert. Used by callers that located a slot via Probe and need
// to revisit its chunk index without re-probing.
func (t *Table) ChunkAt(i int64) int64 {
	_, chunkIndex := t.readSlot(i)
	return chunkIndex
}

// Slots returns the table's slot capacity.
func (t *Table) Slots() int64 { return t.slots }

// SlotBytes returns the configured slot width in bytes (4 or 8).
func (t *Table) SlotBytes() int { return t.slotBytes }
