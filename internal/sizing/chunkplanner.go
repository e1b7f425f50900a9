package sizing

import "math"

// ChunkSize picks the chunk granule size in bytes: the configured override
// if present, the exact rounded entry size if both key and value are
// constant-sized (one chunk per entry, no fragmentation possible), or
// otherwise the smallest power of two in [4, 2^30] an average entry fits
// within maxDefaultChunksPerAverageEntry chunks of.
func ChunkSize(entrySize EntrySizeInfo, actualChunkSize int64, constantlySizedEntries, replicated bool) int64 {
	if actualChunkSize > 0 {
		return actualChunkSize
	}
	if constantlySizedEntries {
		return int64(math.Round(entrySize.AverageEntrySize))
	}
	const maxChunkSize = int64(1) << 30
	budget := maxDefaultChunksPerAverageEntry(replicated)
	for chunkSize := int64(4); chunkSize <= maxChunkSize; chunkSize *= 2 {
		if float64(budget*chunkSize) > entrySize.AverageEntrySize {
			return chunkSize
		}
	}
	return maxChunkSize
}

// AverageChunksPerEntry returns how many chunks an average entry occupies:
// exactly 1 for constantly-sized entries, otherwise a worst-case-rounded
// real number used as the Poisson precision for segment sizing.
func AverageChunksPerEntry(entrySize EntrySizeInfo, chunkSize int64, constantlySizedEntries bool) float64 {
	if constantlySizedEntries {
		return 1.0
	}
	return (entrySize.AverageEntrySize + float64(chunkSize) - 1) / float64(chunkSize)
}

// SegmentEntrySpaceInnerOffset deliberately misaligns a segment's first
// entry slot by constantValueSize mod valueAlignment bytes so that, when
// chunkSize == entrySize (the constantly-sized case), every subsequent
// entry's value still lands on the same alignment residue.
func SegmentEntrySpaceInnerOffset(constantlySizedEntries bool, constantValueSize, valueAlignment int64) int64 {
	if !constantlySizedEntries || valueAlignment <= 0 {
		return 0
	}
	return constantValueSize % valueAlignment
}
