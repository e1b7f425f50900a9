package chronomap

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/sachin-handiekar/chronomap/hashtable"
	"github.com/sachin-handiekar/chronomap/internal/bits"
	"github.com/sachin-handiekar/chronomap/internal/sizing"
	"github.com/sachin-handiekar/chronomap/marshal"
	"github.com/sachin-handiekar/chronomap/mmapstore"
	"github.com/sachin-handiekar/chronomap/replication"
	"github.com/sachin-handiekar/chronomap/segment"
)

// ErrChecksumMismatch is returned by Get when an entry's stored value
// checksum does not match its bytes, signalling torn or corrupted storage.
var ErrChecksumMismatch = errors.New("chronomap: value checksum mismatch")

// valueChecksum computes an entry's stored checksum over its value bytes.
func valueChecksum(valueBytes []byte) uint32 {
	return uint32(xxh3.Hash(valueBytes))
}

// ErrSegmentFull is returned by Put when a segment's entry space has no
// room left for a new entry. This implementation does not compact or
// tier segments at runtime; Builder.MaxBloatFactor/AllowSegmentTiering
// only size the layout's MaxExtraTiers field for a future tiering
// allocator to consume.
var ErrSegmentFull = errors.New("chronomap: segment is full")

// ErrNotFound is returned by Remove when the key is absent.
var ErrNotFound = errors.New("chronomap: key not found")

// Map is the runtime handle a Builder.Create/Open returns: a memory-mapped,
// segmented hash map over a fixed Layout. Each segment independently locks
// its header, hash-lookup array, and entry space, so unrelated keys in
// different segments never contend.
type Map[K, V any] struct {
	layout Layout
	region *mmapstore.Region
	keySer marshal.Serializer[K]
	valSer marshal.Serializer[V]
	bcast  replication.Broadcaster
	segs   []*mapSegment
}

type mapSegment struct {
	header     *segment.Header
	lookup     *hashtable.Table
	entrySpace []byte
	entryBase  int64 // entrySpace's offset from the region's start, for value-alignment padding
}

func newMap[K, V any](layout Layout, region *mmapstore.Region, keySer marshal.Serializer[K], valSer marshal.Serializer[V], bcast replication.Broadcaster) *Map[K, V] {
	buf := region.Bytes()
	segs := make([]*mapSegment, layout.Segments)
	offset := int64(0)
	headerBytes := int64(layout.SegmentHeaderBytes)
	hashLookupBytes := layout.SegmentHashLookupSize()
	entrySpaceBytes := layout.SegmentEntrySpaceSize()
	for i := range segs {
		entryBase := offset + headerBytes + hashLookupBytes
		headerBuf := buf[offset : offset+headerBytes]
		lookupBuf := buf[offset+headerBytes : entryBase]
		entryBuf := buf[entryBase : entryBase+entrySpaceBytes]
		segs[i] = &mapSegment{
			header:     segment.New(headerBuf),
			lookup:     hashtable.New(lookupBuf, layout.EntriesPerSegment, layout.HashLookupSlotBytes, layout.HashLookupKeyBits, layout.HashLookupValueBits),
			entrySpace: entryBuf,
			entryBase:  entryBase + layout.SegmentInnerOffset,
		}
		offset += headerBytes + hashLookupBytes + entrySpaceBytes
	}
	if bcast == nil {
		bcast = replication.Local{}
	}
	return &Map[K, V]{layout: layout, region: region, keySer: keySer, valSer: valSer, bcast: bcast, segs: segs}
}

// Layout returns the frozen Layout this Map was built from.
func (m *Map[K, V]) Layout() Layout {
	return m.layout
}

func hashKey(keyBytes []byte) uint64 {
	return xxhash.Sum64(keyBytes)
}

// segmentFor routes hash to one of m.segs by the same fastrange technique
// (internal/bits.FastRange64) hashtable.Table uses for its home slots:
// multiply-and-take-high-bits instead of a modulo, chosen over
// hash % segments to avoid a division per operation.
func (m *Map[K, V]) segmentFor(hash uint64) *mapSegment {
	return m.segs[bits.FastRange64(hash, uint64(len(m.segs)))]
}

// encodeKey serializes key into a fresh buffer sized by keySer's size
// oracle. It is the caller's single source of truth for key bytes: both
// lookups and insertions re-derive them the same way, so two equal keys
// always produce identical encodings.
func (m *Map[K, V]) encodeKey(key K) ([]byte, error) {
	n, err := m.keySer.SerializationSize(key)
	if err != nil {
		return nil, newError(BadSample, "cannot measure key: %v", err)
	}
	buf := make([]byte, n)
	m.keySer.Encode(buf, key)
	return buf, nil
}

func (m *Map[K, V]) encodeValue(value V) ([]byte, error) {
	n, err := m.valSer.SerializationSize(value)
	if err != nil {
		return nil, newError(BadSample, "cannot measure value: %v", err)
	}
	buf := make([]byte, n)
	m.valSer.Encode(buf, value)
	return buf, nil
}

// alignPad returns how many bytes must be skipped so that seg.entryBase +
// chunkOffset + relativeOffset + skip lands on a multiple of the
// configured value alignment, mirroring EntrySizer's worst-case alignment
// model at the level of one concrete entry instead of an average one.
func (m *Map[K, V]) alignPad(seg *mapSegment, chunkOffset int64, relativeOffset int) int64 {
	alignment := m.layout.ValueAlignment
	if alignment <= 1 {
		return 0
	}
	addr := seg.entryBase + chunkOffset + int64(relativeOffset)
	rem := addr % alignment
	if rem == 0 {
		return 0
	}
	return alignment - rem
}

// entryAt decodes the key bytes and, if present, value bytes stored
// starting at the given chunk index (1-based). Returns the stored key
// bytes, the stored value bytes, the stored checksum (nil unless
// checksums are enabled), and the number of bytes the entry occupies.
func (m *Map[K, V]) entryAt(seg *mapSegment, chunkIndex int64) (keyBytes, valueBytes, checksumBytes []byte, total int64) {
	off := (chunkIndex - 1) * m.layout.ChunkSize
	buf := seg.entrySpace[off:]

	keySizer := m.keySer.SizeMarshaller()
	keyLen, keyPrefix := keySizer.ReadSize(buf)
	keyStart := keyPrefix
	keyEnd := keyStart + int(keyLen)
	keyBytes = buf[keyStart:keyEnd]

	pos := keyEnd
	if m.layout.Replicated {
		pos += sizing.AdditionalEntryBytes
	}
	if m.layout.Checksums {
		checksumBytes = buf[pos : pos+sizing.ChecksumStoredBytes]
		pos += sizing.ChecksumStoredBytes
	}

	valueSizer := m.valSer.SizeMarshaller()
	valueLen, valuePrefix := valueSizer.ReadSize(buf[pos:])
	pos += valuePrefix
	pos += int(m.alignPad(seg, off, pos))
	valueStart := pos
	valueEnd := valueStart + int(valueLen)
	valueBytes = buf[valueStart:valueEnd]

	return keyBytes, valueBytes, checksumBytes, int64(valueEnd)
}

// Get looks up key and returns its value.
func (m *Map[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	keyBytes, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}
	hash := hashKey(keyBytes)
	seg := m.segmentFor(hash)

	if err := seg.header.ReadLock(ctx); err != nil {
		return zero, false, err
	}
	defer seg.header.ReadUnlock()

	var found, foundChecksum []byte
	seg.lookup.Probe(hash, func(chunkIndex int64) bool {
		storedKey, storedValue, storedChecksum, _ := m.entryAt(seg, chunkIndex)
		if bytes.Equal(storedKey, keyBytes) {
			found = storedValue
			foundChecksum = storedChecksum
			return true
		}
		return false
	})
	if found == nil {
		return zero, false, nil
	}
	if foundChecksum != nil && binary.LittleEndian.Uint32(foundChecksum) != valueChecksum(found) {
		return zero, false, ErrChecksumMismatch
	}
	value, _ := m.valSer.Decode(found)
	return value, true, nil
}

// Put inserts or replaces the value for key. It returns ErrSegmentFull if
// the owning segment's entry space is exhausted.
func (m *Map[K, V]) Put(ctx context.Context, key K, value V) error {
	keyBytes, err := m.encodeKey(key)
	if err != nil {
		return err
	}
	valueBytes, err := m.encodeValue(value)
	if err != nil {
		return err
	}
	hash := hashKey(keyBytes)
	seg := m.segmentFor(hash)

	if err := seg.header.WriteLock(ctx); err != nil {
		return err
	}
	op, err := m.putLocked(seg, hash, keyBytes, valueBytes)
	seg.header.WriteUnlock()
	if err != nil {
		return err
	}
	return m.bcast.Publish(op)
}

// putLocked performs the write-locked portion of Put and returns the
// replication op the caller should publish once the lock is released —
// Publish must run after WriteUnlock, not before, or a slow Broadcaster
// extends every other goroutine's wait on this segment.
func (m *Map[K, V]) putLocked(seg *mapSegment, hash uint64, keyBytes, valueBytes []byte) (replication.Op, error) {
	existing := seg.lookup.Probe(hash, func(chunkIndex int64) bool {
		storedKey, _, _, _ := m.entryAt(seg, chunkIndex)
		return bytes.Equal(storedKey, keyBytes)
	})
	if existing >= 0 {
		return m.overwriteInPlaceLocked(seg, existing, keyBytes, valueBytes)
	}

	chunkIndex, err := m.allocate(seg, keyBytes, valueBytes)
	if err != nil {
		return replication.Op{}, err
	}
	if seg.lookup.Insert(hash, chunkIndex) < 0 {
		return replication.Op{}, ErrSegmentFull
	}
	seg.header.AddSize(1)

	return replication.Op{Kind: replication.OpPut, Key: keyBytes, Value: valueBytes}, nil
}

// overwriteInPlaceLocked rewrites the value of the entry occupying slot's
// chunk chain and returns the replication op for the caller to publish
// after releasing the write lock. If the new value does not fit in the
// entry's existing chunk span, the entry is written afresh by allocate and
// the slot is repointed at it; the old chunks are not reclaimed.
func (m *Map[K, V]) overwriteInPlaceLocked(seg *mapSegment, slot int64, keyBytes, valueBytes []byte) (replication.Op, error) {
	chunkIndex := seg.lookup.ChunkAt(slot)
	off := (chunkIndex - 1) * m.layout.ChunkSize
	buf := seg.entrySpace[off:]

	keySizer := m.keySer.SizeMarshaller()
	_, keyPrefix := keySizer.ReadSize(buf)
	pos := keyPrefix + len(keyBytes)
	if m.layout.Replicated {
		pos += sizing.AdditionalEntryBytes
	}
	checksumAt := -1
	if m.layout.Checksums {
		checksumAt = pos
		pos += sizing.ChecksumStoredBytes
	}

	valueSizer := m.valSer.SizeMarshaller()
	newEnd := pos + valueSizer.StoringLength(int64(len(valueBytes)))
	newEnd += int(m.alignPad(seg, off, newEnd)) + len(valueBytes)
	_, _, _, oldEnd := m.entryAt(seg, chunkIndex)
	if span := (oldEnd + m.layout.ChunkSize - 1) / m.layout.ChunkSize * m.layout.ChunkSize; int64(newEnd) > span {
		newChunk, err := m.allocate(seg, keyBytes, valueBytes)
		if err != nil {
			return replication.Op{}, err
		}
		seg.lookup.Remove(slot)
		seg.lookup.Insert(hashKey(keyBytes), newChunk)
		return replication.Op{Kind: replication.OpUpdate, Key: keyBytes, Value: valueBytes}, nil
	}
	pos += valueSizer.WriteSize(buf[pos:], int64(len(valueBytes)))
	pos += int(m.alignPad(seg, off, pos))
	copy(buf[pos:], valueBytes)
	if checksumAt >= 0 {
		binary.LittleEndian.PutUint32(buf[checksumAt:], valueChecksum(valueBytes))
	}

	return replication.Op{Kind: replication.OpUpdate, Key: keyBytes, Value: valueBytes}, nil
}

// allocate bump-allocates enough chunks from seg's free-list cursor to
// hold one entry (key + optional replication/checksum overhead + value)
// and writes the entry bytes. It never reclaims chunks freed by Remove;
// segment compaction is out of scope.
func (m *Map[K, V]) allocate(seg *mapSegment, keyBytes, valueBytes []byte) (int64, error) {
	keySizer := m.keySer.SizeMarshaller()
	valueSizer := m.valSer.SizeMarshaller()

	cursor := seg.header.NextPosToSearchFrom()
	off := cursor * m.layout.ChunkSize

	pos := keySizer.StoringLength(int64(len(keyBytes))) + len(keyBytes)
	if m.layout.Replicated {
		pos += sizing.AdditionalEntryBytes
	}
	if m.layout.Checksums {
		pos += sizing.ChecksumStoredBytes
	}
	pos += valueSizer.StoringLength(int64(len(valueBytes)))
	pos += int(m.alignPad(seg, off, pos))
	total := pos + len(valueBytes)

	chunksNeeded := (int64(total) + m.layout.ChunkSize - 1) / m.layout.ChunkSize
	if chunksNeeded < 1 {
		chunksNeeded = 1
	}
	if cursor+chunksNeeded > m.layout.ChunksPerSegment {
		return 0, ErrSegmentFull
	}

	buf := seg.entrySpace[off:]
	pos = keySizer.WriteSize(buf, int64(len(keyBytes)))
	pos += copy(buf[pos:], keyBytes)
	if m.layout.Replicated {
		pos += sizing.AdditionalEntryBytes
	}
	checksumAt := -1
	if m.layout.Checksums {
		checksumAt = pos
		pos += sizing.ChecksumStoredBytes
	}
	pos += valueSizer.WriteSize(buf[pos:], int64(len(valueBytes)))
	pos += int(m.alignPad(seg, off, pos))
	pos += copy(buf[pos:], valueBytes)
	if checksumAt >= 0 {
		binary.LittleEndian.PutUint32(buf[checksumAt:], valueChecksum(valueBytes))
	}

	seg.header.SetNextPosToSearchFrom(cursor + chunksNeeded)
	return cursor + 1, nil
}

// Remove deletes key, returning ErrNotFound if it is absent. The
// hash-lookup slot is hard-cleared and the entries in the occupied run
// after it are re-inserted, so every remaining key stays reachable.
// Chunks freed by Remove are not reclaimed by allocate.
func (m *Map[K, V]) Remove(ctx context.Context, key K) error {
	keyBytes, err := m.encodeKey(key)
	if err != nil {
		return err
	}
	hash := hashKey(keyBytes)
	seg := m.segmentFor(hash)

	if err := seg.header.WriteLock(ctx); err != nil {
		return err
	}
	slot := seg.lookup.Probe(hash, func(chunkIndex int64) bool {
		storedKey, _, _, _ := m.entryAt(seg, chunkIndex)
		return bytes.Equal(storedKey, keyBytes)
	})
	if slot < 0 {
		seg.header.WriteUnlock()
		return ErrNotFound
	}
	seg.lookup.Remove(slot)
	slots := seg.lookup.Slots()
	for i, step := (slot+1)%slots, int64(1); step < slots; i, step = (i+1)%slots, step+1 {
		chunk := seg.lookup.ChunkAt(i)
		if chunk == 0 {
			break
		}
		seg.lookup.Remove(i)
		storedKey, _, _, _ := m.entryAt(seg, chunk)
		seg.lookup.Insert(hashKey(storedKey), chunk)
	}
	seg.header.AddSize(-1)
	seg.header.AddDeleted(1)
	seg.header.WriteUnlock()

	return m.bcast.Publish(replication.Op{Kind: replication.OpRemove, Key: keyBytes})
}

// Compute atomically reads the current value for key (zero value, false if
// absent), passes it to fn, and stores fn's result — all under the
// segment's write lock, so no other Get/Put/Remove on the same segment can
// interleave.
func (m *Map[K, V]) Compute(ctx context.Context, key K, fn func(current V, ok bool) V) error {
	keyBytes, err := m.encodeKey(key)
	if err != nil {
		return err
	}
	hash := hashKey(keyBytes)
	seg := m.segmentFor(hash)

	if err := seg.header.WriteLock(ctx); err != nil {
		return err
	}
	op, err := m.computeLocked(seg, hash, keyBytes, fn)
	seg.header.WriteUnlock()
	if err != nil {
		return err
	}
	return m.bcast.Publish(op)
}

// computeLocked performs the write-locked portion of Compute and returns
// the replication op the caller should publish once the lock is released.
func (m *Map[K, V]) computeLocked(seg *mapSegment, hash uint64, keyBytes []byte, fn func(current V, ok bool) V) (replication.Op, error) {
	var current V
	var ok bool
	existing := seg.lookup.Probe(hash, func(chunkIndex int64) bool {
		storedKey, storedValue, _, _ := m.entryAt(seg, chunkIndex)
		if bytes.Equal(storedKey, keyBytes) {
			current, _ = m.valSer.Decode(storedValue)
			ok = true
			return true
		}
		return false
	})

	next := fn(current, ok)
	valueBytes, err := m.encodeValue(next)
	if err != nil {
		return replication.Op{}, err
	}

	if existing >= 0 {
		return m.overwriteInPlaceLocked(seg, existing, keyBytes, valueBytes)
	}
	chunkIndex, err := m.allocate(seg, keyBytes, valueBytes)
	if err != nil {
		return replication.Op{}, err
	}
	if seg.lookup.Insert(hash, chunkIndex) < 0 {
		return replication.Op{}, ErrSegmentFull
	}
	seg.header.AddSize(1)
	return replication.Op{Kind: replication.OpPut, Key: keyBytes, Value: valueBytes}, nil
}

// Size returns the total number of entries across all segments. It sums
// each segment's header counter under no lock, so it is a snapshot that
// can race with concurrent mutations.
func (m *Map[K, V]) Size() int64 {
	var total int64
	for _, seg := range m.segs {
		total += seg.header.Size()
	}
	return total
}

// VerifyChecksums walks every segment concurrently, recomputing and
// comparing each entry's stored value checksum, and returns the first
// ErrChecksumMismatch or context error encountered across all segments. A
// no-op success if the Layout was not configured with checksums. Mirrors
// the teacher's worker-per-partition fan-out for bulk scans, scoped here
// to one goroutine per segment under that segment's own read lock.
func (m *Map[K, V]) VerifyChecksums(ctx context.Context) error {
	if !m.layout.Checksums {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, seg := range m.segs {
		seg := seg
		g.Go(func() error {
			if err := seg.header.ReadLock(gctx); err != nil {
				return err
			}
			defer seg.header.ReadUnlock()
			for i := int64(0); i < seg.lookup.Slots(); i++ {
				chunkIndex := seg.lookup.ChunkAt(i)
				if chunkIndex == 0 {
					continue
				}
				_, valueBytes, checksumBytes, _ := m.entryAt(seg, chunkIndex)
				if checksumBytes != nil && binary.LittleEndian.Uint32(checksumBytes) != valueChecksum(valueBytes) {
					return ErrChecksumMismatch
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Close flushes and unmaps the backing region.
func (m *Map[K, V]) Close() error {
	if err := m.region.Flush(); err != nil && !errors.Is(err, mmapstore.ErrClosed) {
		return fmt.Errorf("chronomap: flush: %w", err)
	}
	return m.region.Close()
}
