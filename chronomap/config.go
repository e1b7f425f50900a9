package chronomap

import "github.com/sachin-handiekar/chronomap/internal/sizing"

// ChecksumMode is the tri-state checksumEntries config.
type ChecksumMode int

const (
	ChecksumIfPersisted ChecksumMode = iota
	ChecksumYes
	ChecksumNo
)

func (m ChecksumMode) toSizing() sizing.Checksums {
	switch m {
	case ChecksumYes:
		return sizing.ChecksumsYes
	case ChecksumNo:
		return sizing.ChecksumsNo
	default:
		return sizing.ChecksumsIfPersisted
	}
}

const (
	defaultEntries                     = int64(1) << 20
	defaultNonTieredSegmentsPercentile = 0.99999
	defaultMaxBloatFactor               = 1.0
	unsetSize                           = -1.0 // sentinel for "averageKeySize not configured"
)

// keySizeSource tracks which of {averageKeySize, averageKey,
// constantKeySize} is currently active, enforcing the "setting one clears
// the others" rule from the config surface.
type sizeSource int

const (
	sizeUnset sizeSource = iota
	sizeAverageValue
	sizeAverageSample
	sizeConstantSample
)
