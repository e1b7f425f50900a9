package sizing

import (
	"math"

	"github.com/sachin-handiekar/chronomap/hashtable"
	"github.com/sachin-handiekar/chronomap/internal/bits"
)

// PlanSegmentsInputs is everything SegmentPlanner needs, already resolved
// by the caller: an average entry size and chunks-per-entry from
// EntrySizer/ChunkPlanner, plus the subset of Config relevant to segment
// count and entries-per-segment.
type PlanSegmentsInputs struct {
	Entries                     int64
	AverageEntrySize            float64
	AverageChunksPerEntry       float64
	AverageValueSize            float64
	NonTieredSegmentsPercentile float64
	MinSegments                 int64 // configured floor, 0 if unset
	ActualSegments              int64 // configured override, 0 if unset
	EntriesPerSegment           int64 // configured override, 0 if unset
	ActualChunksPerSegment      int64 // configured override, 0 if unset
	Aligned64BitAtomic          bool
	PageSize                    int64 // OS page size, e.g. 4096
}

// PlanResult is SegmentPlanner's output.
type PlanResult struct {
	Segments          int64
	EntriesPerSegment int64
	ChunksPerSegment  int64
}

// PlanSegments chooses segment count, entries-per-segment, and
// chunks-per-segment, honoring any of the three low-level overrides the
// caller configured and otherwise running the hash-lookup-slot-width
// heuristic.
func PlanSegments(in PlanSegmentsInputs) (PlanResult, error) {
	pageSize := in.PageSize
	if pageSize <= 0 {
		pageSize = osPageSize
	}

	segments, err := actualSegments(in, pageSize)
	if err != nil {
		return PlanResult{}, err
	}

	entriesPerSegment, err := entriesPerSegmentFor(in, segments)
	if err != nil {
		return PlanResult{}, err
	}

	chunksPerSegment := in.ActualChunksPerSegment
	if chunksPerSegment <= 0 {
		chunksPerSegment = int64(math.Round(float64(entriesPerSegment) * in.AverageChunksPerEntry))
	}

	return PlanResult{
		Segments:          segments,
		EntriesPerSegment: entriesPerSegment,
		ChunksPerSegment:  chunksPerSegment,
	}, nil
}

func actualSegments(in PlanSegmentsInputs, pageSize int64) (int64, error) {
	if in.ActualSegments > 0 {
		if in.ActualSegments > MaxSegments {
			return 0, newFieldError(TooManyEntries, "actualSegments", in.ActualSegments, MaxSegments, "actualSegments %d exceeds max segments %d", in.ActualSegments, MaxSegments)
		}
		return in.ActualSegments, nil
	}
	if in.EntriesPerSegment > 0 {
		return trySegments(in, in.EntriesPerSegment, MaxSegments)
	}

	if segments, ok, err := tryHashLookupSlotSize(in, pageSize, 4); err != nil {
		return 0, err
	} else if ok {
		return segments, nil
	}

	maxHashLookupEntrySize := 4
	if in.Aligned64BitAtomic {
		maxHashLookupEntrySize = 8
	}
	maxEntriesPerSegment := findMaxEntriesPerSegmentToFitHashLookupSlotSize(in, maxHashLookupEntrySize)
	segments, err := trySegments(in, maxEntriesPerSegment, MaxSegments)
	if err != nil {
		return 0, err
	}
	return segments, nil
}

// tryHashLookupSlotSize finds the largest entriesPerSegment that fits a
// hashLookupSlotSize-byte slot and accepts it only if the resulting
// segment's entry space would not be too small relative to a page (the
// "page-efficiency guard", only meaningful for the 4-byte slot attempt).
func tryHashLookupSlotSize(in PlanSegmentsInputs, pageSize int64, hashLookupSlotSize int) (int64, bool, error) {
	entriesPerSegment := findMaxEntriesPerSegmentToFitHashLookupSlotSize(in, hashLookupSlotSize)
	entrySpaceSize := int64(math.Round(float64(entriesPerSegment) * in.AverageEntrySize))
	if entrySpaceSize < pageSize*5 {
		return 0, false, nil
	}
	segments, err := trySegments(in, entriesPerSegment, MaxSegments)
	if err != nil {
		return 0, false, err
	}
	return segments, true, nil
}

// findMaxEntriesPerSegmentToFitHashLookupSlotSize binary-searches the
// largest entriesPerSegment whose implied hash-lookup slot still fits
// within targetHashLookupSlotSize bytes.
func findMaxEntriesPerSegmentToFitHashLookupSlotSize(in PlanSegmentsInputs, targetHashLookupSlotSize int) int64 {
	entriesPerSegment := int64(1) << 62
	step := entriesPerSegment / 2
	for step > 0 {
		if hashLookupSlotBytes(in, entriesPerSegment) > targetHashLookupSlotSize {
			entriesPerSegment -= step
		} else {
			entriesPerSegment += step
		}
		step /= 2
	}
	return entriesPerSegment - 1
}

func hashLookupSlotBytes(in PlanSegmentsInputs, entriesPerSegment int64) int {
	chunksPerSegment := int64(math.Round(float64(entriesPerSegment) * in.AverageChunksPerEntry))
	valueBits := hashtable.ValueBits(chunksPerSegment)
	keyBits := hashtable.KeyBits(entriesPerSegment, valueBits)
	return hashtable.EntrySize(keyBits, valueBits)
}

func trySegments(in PlanSegmentsInputs, entriesPerSegment, maxSegments int64) (int64, error) {
	segments, err := segmentsGivenEntriesPerSegmentFixed(in, entriesPerSegment)
	if err != nil {
		return 0, err
	}
	floor := minSegments(in)
	if segments < floor {
		segments = floor
	}
	segments = bits.NextPowerOfTwo(segments, 1)
	if segments > maxSegments {
		return 0, newError(TooManyEntries, "would need %d segments, exceeding max %d", segments, maxSegments)
	}
	return segments, nil
}

// segmentsGivenEntriesPerSegmentFixed finds the segment count such that a
// segment of entriesPerSegment slots still covers its
// nonTieredSegmentsPercentile share of the Poisson-distributed load.
func segmentsGivenEntriesPerSegmentFixed(in PlanSegmentsInputs, entriesPerSegment int64) (int64, error) {
	precision := 1.0 / in.AverageChunksPerEntry
	mean, ok := MeanByCumulativeProbabilityAndValue(in.NonTieredSegmentsPercentile, entriesPerSegment, precision)
	if !ok || mean <= 0 {
		return 0, newError(TooManyEntries, "no feasible segment load for entriesPerSegment=%d at percentile %v", entriesPerSegment, in.NonTieredSegmentsPercentile)
	}
	segments := int64(float64(in.Entries)/mean) + 1
	if segments < 1 || segments > MaxSegments {
		return 0, newError(TooManyEntries, "computed %d segments, outside [1, %d]", segments, MaxSegments)
	}
	if in.MinSegments > 0 && segments < in.MinSegments {
		segments = in.MinSegments
	}
	return segments, nil
}

func entriesPerSegmentFor(in PlanSegmentsInputs, segments int64) (int64, error) {
	var entriesPerSegment int64
	if in.EntriesPerSegment > 0 {
		entriesPerSegment = in.EntriesPerSegment
	} else {
		average := float64(in.Entries) / float64(segments)
		k, ok := InverseCDF(average, in.NonTieredSegmentsPercentile)
		if !ok {
			return 0, newError(TooManyEntries, "no feasible entriesPerSegment for average load %v at percentile %v", average, in.NonTieredSegmentsPercentile)
		}
		entriesPerSegment = k
	}

	if in.ActualChunksPerSegment <= 0 {
		if float64(entriesPerSegment)*in.AverageChunksPerEntry > float64(MaxSegmentChunks) {
			return 0, newError(TooManyChunks, "entriesPerSegment=%d * averageChunksPerEntry=%v exceeds max segment chunks %d", entriesPerSegment, in.AverageChunksPerEntry, MaxSegmentChunks)
		}
	}
	if entriesPerSegment > MaxSegmentEntries {
		return 0, newError(TooManyEntries, "entriesPerSegment=%d exceeds max %d", entriesPerSegment, MaxSegmentEntries)
	}
	return entriesPerSegment, nil
}

// minSegments is the floor under segment count: a small-ladder estimate
// based on entry count, pulled up further if large average value sizes
// suggest more segments are worth it to reduce per-key contention, and
// finally clamped up to any user-configured floor.
func minSegments(in PlanSegmentsInputs) int64 {
	estimate := estimateSegments(in)
	if in.MinSegments > estimate {
		return in.MinSegments
	}
	return estimate
}

func estimateSegments(in PlanSegmentsInputs) int64 {
	bySize := estimateSegmentsBasedOnSize(in)
	byEntries := bits.NextPowerOfTwo(in.Entries/32, 1)
	if bySize < byEntries {
		return bySize
	}
	return byEntries
}

func estimateSegmentsBasedOnSize(in PlanSegmentsInputs) int64 {
	base := estimateSegmentsForEntries(in.Entries)
	switch {
	case in.AverageValueSize >= 1_000_000:
		return base * 16
	case in.AverageValueSize >= 100_000:
		return base * 8
	case in.AverageValueSize >= 10_000:
		return base * 4
	case in.AverageValueSize >= 1_000:
		return base * 2
	default:
		return base
	}
}

func estimateSegmentsForEntries(n int64) int64 {
	switch {
	case n > 200<<20:
		return 256
	case n >= 1<<20:
		return 128
	case n >= 128<<10:
		return 64
	case n >= 16<<10:
		return 32
	case n >= 4<<10:
		return 16
	case n >= 1<<10:
		return 8
	default:
		return 1
	}
}
