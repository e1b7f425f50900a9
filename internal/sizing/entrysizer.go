package sizing

import (
	"math"

	"github.com/sachin-handiekar/chronomap/internal/bits"
	"github.com/sachin-handiekar/chronomap/marshal"
)

// EntrySizeInputs is everything EntrySize needs about a candidate key/value
// pair, already resolved from Config + the key/value Oracle by the caller:
// internal/sizing itself never touches a Marshaller[T] or Oracle[T], only
// the plain SizeMarshaller and scalar facts derived from them.
type EntrySizeInputs struct {
	AverageKeySize    float64
	KeySizeMarshaller marshal.SizeMarshaller
	KeyConstant       bool // constantlySizedKeys(): statically known, or asserted via sample

	AverageValueSize    float64
	ValueSizeMarshaller marshal.SizeMarshaller
	ValueConstant       bool // constantlySizedValues()
	ConstantValueSize   int64

	ValueAlignment  int64
	Replicated      bool
	ChecksumEntries bool
	ActualChunkSize int64 // 0 means unset
}

// EntrySizeInfo is EntrySizer's output: the average footprint of one entry
// and the worst-case bytes lost to value alignment.
type EntrySizeInfo struct {
	AverageEntrySize float64
	WorstAlignment   int64
}

// EntrySize computes the average entry footprint and worst-case alignment
// padding for a key/value pair, following the component order spec'd for
// EntrySizer: key length prefix, key, replication overhead, checksum
// overhead, value length prefix, alignment padding, value.
func EntrySize(in EntrySizeInputs) EntrySizeInfo {
	alignment := in.ValueAlignment
	if alignment <= 0 {
		alignment = 1
	}

	size := averageStoringLength(in.KeySizeMarshaller, in.AverageKeySize)
	size += in.AverageKeySize
	if in.Replicated {
		size += AdditionalEntryBytes
	}
	if in.ChecksumEntries {
		size += ChecksumStoredBytes
	}
	size += averageStoringLength(in.ValueSizeMarshaller, in.AverageValueSize)

	var worstAlignment int64
	if worstAlignmentRequiresValueSize(alignment, in.KeyConstant, in.ValueSizeMarshaller) {
		constantSizeBeforeAlignment := int64(math.Round(size))
		switch {
		case in.ValueConstant:
			totalDataSize := constantSizeBeforeAlignment + in.ConstantValueSize
			worstAlignment = bits.AlignUp(totalDataSize, alignment) - totalDataSize
		case in.ActualChunkSize > 0:
			worstAlignment = worstAlignmentAssumingChunkSize(constantSizeBeforeAlignment, in.ActualChunkSize, alignment)
		default:
			chunkSize := int64(8)
			worstAlignment = worstAlignmentAssumingChunkSize(constantSizeBeforeAlignment, chunkSize, alignment)
			budget := float64(maxDefaultChunksPerAverageEntry(in.Replicated) * chunkSize)
			if size+float64(worstAlignment)+in.AverageValueSize < budget {
				chunkSize = 4
				worstAlignment = worstAlignmentAssumingChunkSize(constantSizeBeforeAlignment, chunkSize, alignment)
			}
		}
	} else {
		worstAlignment = alignment - 1
	}

	size += float64(worstAlignment)
	size += in.AverageValueSize
	return EntrySizeInfo{AverageEntrySize: size, WorstAlignment: worstAlignment}
}

// worstAlignmentRequiresValueSize reports whether computing worst-case
// alignment needs the value size at all: only when alignment is active,
// keys are constant-sized, and the value's length prefix is itself a
// constant number of bytes (so the entry head up to the value payload has
// a knowable, fixed size to align from).
func worstAlignmentRequiresValueSize(alignment int64, keyConstant bool, valueSizeMarshaller marshal.SizeMarshaller) bool {
	if alignment == 1 || !keyConstant {
		return false
	}
	_, ok := valueSizeMarshaller.(interface{ ConstantStoringLength() int })
	return ok
}

// worstAlignmentAssumingChunkSize bounds the padding lost to alignment
// when entries are laid out back-to-back in chunkSize granules: the first
// entry's gap to alignment, extended by multiples of gcd(alignment,
// chunkSize) until it can't grow further without reaching a full alignment
// period — the worst residue any chunk-aligned entry start can land on.
func worstAlignmentAssumingChunkSize(sizeBeforeAlignment, chunkSize, alignment int64) int64 {
	first := bits.AlignUp(sizeBeforeAlignment, alignment) - sizeBeforeAlignment
	g := bits.GCD(alignment, chunkSize)
	if g == alignment {
		return first
	}
	worst := first
	for worst+g < alignment {
		worst += g
	}
	return worst
}

// averageStoringLength interpolates SizeMarshaller.StoringLength between
// floor(avg) and ceil(avg) when avg isn't integral, since the length
// prefix's own byte width can change at size boundaries (e.g. stop-bit
// encoding growing past 127).
func averageStoringLength(sm marshal.SizeMarshaller, avg float64) float64 {
	rounded := math.Round(avg)
	if avg == rounded {
		return float64(sm.StoringLength(int64(rounded)))
	}
	lower := int64(math.Floor(avg))
	upper := lower + 1
	lowerLen := sm.StoringLength(lower)
	upperLen := sm.StoringLength(upper)
	if lowerLen == upperLen {
		return float64(lowerLen)
	}
	frac := avg - float64(lower)
	return float64(lowerLen)*(1-frac) + float64(upperLen)*frac
}
