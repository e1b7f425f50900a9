package sizing

import (
	"fmt"
	"math"
)

// Checksums is the tri-state checksumEntries config: always on, always
// off, or only when the map ends up backed by a file.
type Checksums int

const (
	ChecksumsIfPersisted Checksums = iota
	ChecksumsYes
	ChecksumsNo
)

// AssembleInputs gathers every resolved fact LayoutAssembler needs: the
// outputs of EntrySizer/ChunkPlanner/SegmentPlanner/HashLookupSizer plus
// the remaining raw Config fields nothing downstream has consumed yet.
type AssembleInputs struct {
	Plan                      PlanResult
	EntrySize                 EntrySizeInfo
	ChunkSize                 int64
	ConstantlySizedEntries    bool
	ActualChunkSizeConfigured bool
	ValueAlignment            int64
	SegmentEntrySpaceOffset   int64
	MaxChunksPerEntryConfig   int64 // 0 = unset
	MaxBloatFactor            float64
	AllowSegmentTiering       bool
	Checksums                 Checksums
	Persisted                 bool
	Replicated                bool
	HashLookupValueBits       int
	HashLookupKeyBits         int
	HashLookupSlotBytes       int
	Aligned64BitAtomic        bool
	PageSize                  int64
}

// Layout is the immutable record LayoutAssembler emits: everything the
// runtime needs to allocate and interpret segments, frozen once emit()
// returns.
type Layout struct {
	Segments              int64
	EntriesPerSegment     int64
	ChunkSize             int64
	ChunksPerSegment      int64
	HashLookupValueBits   int
	HashLookupKeyBits     int
	HashLookupSlotBytes   int
	SegmentHeaderBytes    int
	ValueAlignment        int64
	WorstAlignmentPadding int64
	SegmentInnerOffset    int64
	MaxExtraTiers         int64
	MaxChunksPerEntry     int64
	Checksums             bool
	Replicated            bool
}

// Assemble combines every planner output into a Layout and checks all
// eight structural invariants, returning a structured error at the first
// violation instead of a partially-valid record.
func Assemble(in AssembleInputs) (Layout, error) {
	pageSize := in.PageSize
	if pageSize <= 0 {
		pageSize = osPageSize
	}

	maxChunksPerEntry := resolveMaxChunksPerEntry(in)
	maxExtraTiers := resolveMaxExtraTiers(in)
	segmentHeaderBytes := resolveSegmentHeaderBytes(in.Plan.Segments, pageSize)
	checksums := resolveChecksums(in.Checksums, in.Persisted)

	layout := Layout{
		Segments:              in.Plan.Segments,
		EntriesPerSegment:     in.Plan.EntriesPerSegment,
		ChunkSize:             in.ChunkSize,
		ChunksPerSegment:      in.Plan.ChunksPerSegment,
		HashLookupValueBits:   in.HashLookupValueBits,
		HashLookupKeyBits:     in.HashLookupKeyBits,
		HashLookupSlotBytes:   in.HashLookupSlotBytes,
		SegmentHeaderBytes:    segmentHeaderBytes,
		ValueAlignment:        in.ValueAlignment,
		WorstAlignmentPadding: in.EntrySize.WorstAlignment,
		SegmentInnerOffset:    in.SegmentEntrySpaceOffset,
		MaxExtraTiers:         maxExtraTiers,
		MaxChunksPerEntry:     maxChunksPerEntry,
		Checksums:             checksums,
		Replicated:            in.Replicated,
	}

	if err := checkInvariants(layout, in); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

func resolveMaxChunksPerEntry(in AssembleInputs) int64 {
	if in.ConstantlySizedEntries {
		return 1
	}
	result := in.Plan.ChunksPerSegment
	if result > math.MaxInt32 {
		result = math.MaxInt32
	}
	if in.MaxChunksPerEntryConfig > 0 && in.MaxChunksPerEntryConfig < result {
		result = in.MaxChunksPerEntryConfig
	}
	return result
}

func resolveMaxExtraTiers(in AssembleInputs) int64 {
	if !in.AllowSegmentTiering {
		return 0
	}
	segments := in.Plan.Segments
	return int64((in.MaxBloatFactor-1.0)*float64(segments)) + segments
}

func resolveSegmentHeaderBytes(segments, pageSize int64) int {
	if segments*192 < 2*pageSize {
		return 192
	}
	if segments*128 < 3*pageSize {
		return 128
	}
	if segments <= 16384 {
		return 64
	}
	return 32
}

// ResolveChecksums resolves the checksumEntries tri-state to a concrete
// bool given whether the map ends up backed by a file. Exposed so callers
// building EntrySizeInputs can resolve it once, ahead of Assemble.
func ResolveChecksums(mode Checksums, persisted bool) bool {
	return resolveChecksums(mode, persisted)
}

func resolveChecksums(mode Checksums, persisted bool) bool {
	switch mode {
	case ChecksumsYes:
		return true
	case ChecksumsNo:
		return false
	default:
		return persisted
	}
}

func checkInvariants(l Layout, in AssembleInputs) error {
	if !isPowerOfTwoInRange(l.Segments, 1, MaxSegments) {
		return newFieldError(InvalidConfig, "segments", l.Segments, fmt.Sprintf("power of two in [1, %d]", MaxSegments), "segments %d is not a power of two in [1, %d]", l.Segments, MaxSegments)
	}
	if l.ChunksPerSegment > 0 && l.Segments > math.MaxInt64/l.ChunksPerSegment {
		return newError(TooManyChunks, "chunksPerSegment %d * segments %d overflows int64", l.ChunksPerSegment, l.Segments)
	}
	if l.EntriesPerSegment > l.ChunksPerSegment {
		return newFieldError(InvalidConfig, "entriesPerSegment", l.EntriesPerSegment, l.ChunksPerSegment, "entriesPerSegment %d exceeds chunksPerSegment %d", l.EntriesPerSegment, l.ChunksPerSegment)
	}
	if l.HashLookupValueBits+l.HashLookupKeyBits > 8*l.HashLookupSlotBytes {
		return newFieldError(InvalidConfig, "hashLookupValueBits+hashLookupKeyBits", l.HashLookupValueBits+l.HashLookupKeyBits, 8*l.HashLookupSlotBytes, "valueBits %d + keyBits %d exceeds slot capacity %d", l.HashLookupValueBits, l.HashLookupKeyBits, 8*l.HashLookupSlotBytes)
	}
	if l.HashLookupSlotBytes != 4 && l.HashLookupSlotBytes != 8 {
		return newError(InvalidConfig, "hashLookupSlotBytes %d not in {4, 8}", l.HashLookupSlotBytes)
	}
	if l.HashLookupSlotBytes == 8 && !in.Aligned64BitAtomic {
		return newError(ConflictingConfig, "hashLookupSlotBytes 8 requires aligned64BitMemoryOperationsAtomic")
	}
	if in.ConstantlySizedEntries {
		entrySize := int64(math.Round(in.EntrySize.AverageEntrySize))
		if l.ChunkSize != entrySize {
			return newError(InvalidConfig, "constantly-sized entries require chunkSize == entrySize (%d != %d)", l.ChunkSize, entrySize)
		}
		if in.ActualChunkSizeConfigured {
			return newError(ConflictingConfig, "actualChunkSize must not be configured when keys and values are both constant-sized")
		}
	}
	if l.MaxChunksPerEntry > l.ChunksPerSegment {
		return newError(InvalidConfig, "maxChunksPerEntry %d exceeds chunksPerSegment %d", l.MaxChunksPerEntry, l.ChunksPerSegment)
	}
	if l.ValueAlignment > 0 && l.WorstAlignmentPadding >= l.ValueAlignment {
		return newError(InvalidConfig, "worstAlignmentPadding %d >= valueAlignment %d", l.WorstAlignmentPadding, l.ValueAlignment)
	}
	return nil
}

func isPowerOfTwoInRange(n, min, max int64) bool {
	return n >= min && n <= max && n&(n-1) == 0
}
