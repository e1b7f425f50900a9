package chronomap

import "github.com/sachin-handiekar/chronomap/internal/sizing"

// Mode tags what kind of map a Layout describes — the tagged-variant
// replacement for the original builder hierarchy's map/set/replicated-map
// subclasses.
type Mode int

const (
	ModeMap Mode = iota
	ModeSet
	ModeReplicatedMap
)

func (m Mode) String() string {
	switch m {
	case ModeMap:
		return "map"
	case ModeSet:
		return "set"
	case ModeReplicatedMap:
		return "replicated-map"
	default:
		return "unknown"
	}
}

// Layout is the immutable, frozen output of Builder.Create: the concrete
// physical layout a map handle allocates and interprets memory according
// to. Two Creates from identical Config on the same platform produce an
// equal Layout.
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
	Mode                  Mode
}

func fromSizingLayout(l sizing.Layout, replicated bool, mode Mode) Layout {
	return Layout{
		Segments:              l.Segments,
		EntriesPerSegment:     l.EntriesPerSegment,
		ChunkSize:             l.ChunkSize,
		ChunksPerSegment:      l.ChunksPerSegment,
		HashLookupValueBits:   l.HashLookupValueBits,
		HashLookupKeyBits:     l.HashLookupKeyBits,
		HashLookupSlotBytes:   l.HashLookupSlotBytes,
		SegmentHeaderBytes:    l.SegmentHeaderBytes,
		ValueAlignment:        l.ValueAlignment,
		WorstAlignmentPadding: l.WorstAlignmentPadding,
		SegmentInnerOffset:    l.SegmentInnerOffset,
		MaxExtraTiers:         l.MaxExtraTiers,
		MaxChunksPerEntry:     l.MaxChunksPerEntry,
		Checksums:             l.Checksums,
		Replicated:            replicated,
		Mode:                  mode,
	}
}

// SegmentEntrySpaceSize returns the byte size of one segment's entry
// space: chunksPerSegment chunks of chunkSize bytes each, the region a
// segment's hash-lookup slots point chunk indices into.
func (l Layout) SegmentEntrySpaceSize() int64 {
	return l.ChunksPerSegment * l.ChunkSize
}

// SegmentHashLookupSize returns the byte size of one segment's
// hash-lookup array.
func (l Layout) SegmentHashLookupSize() int64 {
	return l.EntriesPerSegment * int64(l.HashLookupSlotBytes)
}

// SegmentSize returns the total byte size of one segment: header,
// hash-lookup array, then entry space.
func (l Layout) SegmentSize() int64 {
	return int64(l.SegmentHeaderBytes) + l.SegmentHashLookupSize() + l.SegmentEntrySpaceSize()
}

// TotalSize returns the byte size of the whole map's segment area,
// excluding any Tier overflow (bounded separately by MaxExtraTiers).
func (l Layout) TotalSize() int64 {
	return l.Segments * l.SegmentSize()
}
