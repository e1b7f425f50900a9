package hashtable

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"testing"
)

const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewSource(int64((testSeed1 ^ s1) ^ (testSeed2 ^ s2))))
}

func newTable(slots int64, slotBytes int) *Table {
	keyBits := KeyBits(slots, ValueBits(slots))
	valueBits := ValueBits(slots)
	buf := make([]byte, slots*int64(slotBytes))
	return New(buf, slots, slotBytes, keyBits, valueBits)
}

func TestInsertThenProbeFinds(t *testing.T) {
	tb := newTable(64, 4)
	const hash = uint64(0xA5A5A5A5A5A5A5A5)
	slot := tb.Insert(hash, 7)
	if slot < 0 {
		t.Fatal("Insert returned -1, want a valid slot")
	}
	var found int64 = -1
	tb.Probe(hash, func(chunkIndex int64) bool {
		found = chunkIndex
		return true
	})
	if found != 7 {
		t.Errorf("Probe found chunkIndex %d, want 7", found)
	}
}

func TestProbeOnEmptyTableReturnsMinusOne(t *testing.T) {
	tb := newTable(64, 4)
	visited := 0
	got := tb.Probe(0x1234, func(chunkIndex int64) bool {
		visited++
		return true
	})
	if got != -1 || visited != 0 {
		t.Errorf("Probe on empty table = (%d, visited=%d), want (-1, 0)", got, visited)
	}
}

func TestInsertFullTableReturnsMinusOne(t *testing.T) {
	tb := newTable(4, 4)
	for i := int64(0); i < 4; i++ {
		if slot := tb.Insert(uint64(i), i+1); slot < 0 {
			t.Fatalf("Insert %d failed before table was full", i)
		}
	}
	if slot := tb.Insert(0xDEAD, 99); slot != -1 {
		t.Errorf("Insert into full table = %d, want -1", slot)
	}
}

func TestRemoveOpensSlotForReuse(t *testing.T) {
	tb := newTable(4, 4)
	for i := int64(0); i < 4; i++ {
		tb.Insert(uint64(i), i+1)
	}
	tb.Remove(2)
	if slot := tb.Insert(0xBEEF, 42); slot != 2 {
		t.Errorf("Insert after Remove(2) = %d, want 2 (reused slot)", slot)
	}
}

func TestProbeStopsAtFirstEmptySlotEvenPastMatchingCollision(t *testing.T) {
	// Two different hashes that collide on checkBits but land on the same
	// start index will still be walked correctly: Probe only stops on an
	// empty slot or visit() accepting, never on a checkBits mismatch alone.
	tb := newTable(8, 4)
	h1 := uint64(0x1111_0000_0001)
	h2 := uint64(0x1111_0000_0002) // same check bits and home slot as h1
	tb.Insert(h1, 1)
	tb.Insert(h2, 2)
	var got []int64
	tb.Probe(h1, func(chunkIndex int64) bool {
		got = append(got, chunkIndex)
		return false // keep walking
	})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Probe visited %v, want [1 2]", got)
	}
}

func TestChunkAtReturnsInsertedValue(t *testing.T) {
	tb := newTable(16, 4)
	slot := tb.Insert(0x55, 9)
	if got := tb.ChunkAt(slot); got != 9 {
		t.Errorf("ChunkAt(%d) = %d, want 9", slot, got)
	}
}

func TestInsertPanicsOnNonPositiveChunkIndex(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Insert(hash, 0) did not panic")
		}
	}()
	tb := newTable(8, 4)
	tb.Insert(0x1, 0)
}

func TestNewPanicsOnInvalidSlotBytes(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New with slotBytes=6 did not panic")
		}
	}()
	New(make([]byte, 48), 8, 6, 4, 4)
}

func TestNewPanicsOnUndersizedBuffer(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New with too-small buf did not panic")
		}
	}()
	New(make([]byte, 4), 8, 4, 4, 4)
}

func TestEightByteSlotRoundTrip(t *testing.T) {
	// valueBits=21 is enough to address chunk indices up to 1<<20.
	const valueBits = 21
	const keyBits = 15
	buf := make([]byte, 16*8)
	tb := New(buf, 16, 8, keyBits, valueBits)
	slot := tb.Insert(0x0123456789ABCDEF, 1<<20)
	if slot < 0 {
		t.Fatal("Insert failed")
	}
	if got := tb.ChunkAt(slot); got != 1<<20 {
		t.Errorf("ChunkAt = %d, want %d", got, 1<<20)
	}
}

func TestInsertManyThenProbeAllRandomized(t *testing.T) {
	rng := newTestRNG(t)
	const slots = 256
	tb := newTable(slots, 4)

	type entry struct {
		hash  uint64
		chunk int64
	}
	var entries []entry
	used := map[int64]bool{}
	// Fill to 75% load to keep Insert reliably finding a free slot.
	for len(entries) < slots*3/4 {
		h := rng.Uint64()
		chunk := int64(len(entries)) + 1
		if tb.Insert(h, chunk) == -1 {
			break
		}
		entries = append(entries, entry{h, chunk})
		used[chunk] = true
	}

	for _, e := range entries {
		foundChunk := int64(-1)
		tb.Probe(e.hash, func(chunkIndex int64) bool {
			if chunkIndex == e.chunk {
				foundChunk = chunkIndex
				return true
			}
			return false
		})
		if foundChunk != e.chunk {
			t.Fatalf("Probe(%#x) did not find chunk %d among inserted entries", e.hash, e.chunk)
		}
	}
}

func TestSlotsAndSlotBytesReflectConstruction(t *testing.T) {
	tb := newTable(128, 8)
	if tb.Slots() != 128 {
		t.Errorf("Slots() = %d, want 128", tb.Slots())
	}
	if tb.SlotBytes() != 8 {
		t.Errorf("SlotBytes() = %d, want 8", tb.SlotBytes())
	}
}
