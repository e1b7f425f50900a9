package chronomap

import (
	"fmt"
	"math"

	"github.com/sachin-handiekar/chronomap/hashtable"
	"github.com/sachin-handiekar/chronomap/internal/sizing"
	"github.com/sachin-handiekar/chronomap/marshal"
	"github.com/sachin-handiekar/chronomap/mmapstore"
	"github.com/sachin-handiekar/chronomap/replication"
)

// Builder configures and plans a Map[K, V]. It is mutable up to Create or
// CreateLayout; after either, it is Frozen and every mutator fails with
// AlreadyFrozen. Clone returns an independent builder in Configuring
// state with the same fields.
type Builder[K, V any] struct {
	keySerializer   marshal.Serializer[K]
	valueSerializer marshal.Serializer[V]
	keyOracle       marshal.Oracle[K]
	valueOracle     marshal.Oracle[V]

	frozen bool
	err    *Error

	entries int64

	keySizeSource    sizeSource
	averageKeySize   float64
	averageKeySample K
	constantKeySample K

	valueSizeSource    sizeSource
	averageValueSize   float64
	averageValueSample V
	constantValueSample V

	actualChunkSize             int64
	actualChunksPerSegment      int64
	entriesPerSegment           int64
	actualSegments              int64
	minSegments                 int64
	maxChunksPerEntry           int64
	valueAlignment              int64
	replicated                  bool
	checksumEntries             ChecksumMode
	maxBloatFactor              float64
	allowSegmentTiering         bool
	nonTieredSegmentsPercentile float64
	aligned64BitAtomic          bool
	mode                        Mode

	persistedSet bool
	persisted    bool
}

// NewBuilder starts a Builder in Configuring state with defaults matching
// the config surface's documented defaults.
func NewBuilder[K, V any](keySerializer marshal.Serializer[K], valueSerializer marshal.Serializer[V]) *Builder[K, V] {
	return &Builder[K, V]{
		keySerializer:               keySerializer,
		valueSerializer:             valueSerializer,
		keyOracle:                   marshal.NewOracle[K](keySerializer),
		valueOracle:                 marshal.NewOracle[V](valueSerializer),
		entries:                     defaultEntries,
		nonTieredSegmentsPercentile: defaultNonTieredSegmentsPercentile,
		maxBloatFactor:              defaultMaxBloatFactor,
		allowSegmentTiering:         true,
		aligned64BitAtomic:          true,
		mode:                        ModeMap,
	}
}

func (b *Builder[K, V]) fail(k Kind, format string, args ...any) *Builder[K, V] {
	if b.err == nil {
		b.err = newError(k, format, args...)
	}
	return b
}

// failField is fail plus the structured Field/Got/Want a caller can read
// back off b.err (or the error CreateLayout returns) without reparsing Msg.
func (b *Builder[K, V]) failField(k Kind, field string, got, want any, format string, args ...any) *Builder[K, V] {
	if b.err == nil {
		b.err = newFieldError(k, field, got, want, format, args...)
	}
	return b
}

func (b *Builder[K, V]) checkMutable() bool {
	if b.frozen {
		b.failField(AlreadyFrozen, "frozen", true, false, "mutator called after Create")
		return false
	}
	return true
}

// Entries sets the upper bound on logical entry count.
func (b *Builder[K, V]) Entries(n int64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n < 1 {
		return b.failField(InvalidConfig, "entries", n, ">= 1", "entries must be >= 1, got %d", n)
	}
	b.entries = n
	return b
}

// AverageKeySize sets the average serialized key length in bytes,
// clearing AverageKey/ConstantKeySizeBySample.
func (b *Builder[K, V]) AverageKeySize(n float64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return b.failField(InvalidConfig, "averageKeySize", n, "positive finite", "averageKeySize must be positive finite, got %v", n)
	}
	b.averageKeySize = n
	b.keySizeSource = sizeAverageValue
	return b
}

// AverageKey sets a representative key sample to measure the average key
// size from, clearing AverageKeySize/ConstantKeySizeBySample.
func (b *Builder[K, V]) AverageKey(sample K) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	b.averageKeySample = sample
	b.keySizeSource = sizeAverageSample
	return b
}

// ConstantKeySizeBySample asserts every key serializes to the same length
// as sample, clearing AverageKeySize/AverageKey.
func (b *Builder[K, V]) ConstantKeySizeBySample(sample K) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	b.constantKeySample = sample
	b.keySizeSource = sizeConstantSample
	return b
}

// AverageValueSize sets the average serialized value length in bytes.
func (b *Builder[K, V]) AverageValueSize(n float64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return b.failField(InvalidConfig, "averageValueSize", n, "positive finite", "averageValueSize must be positive finite, got %v", n)
	}
	b.averageValueSize = n
	b.valueSizeSource = sizeAverageValue
	return b
}

// AverageValue sets a representative value sample to measure the average
// value size from.
func (b *Builder[K, V]) AverageValue(sample V) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	b.averageValueSample = sample
	b.valueSizeSource = sizeAverageSample
	return b
}

// ConstantValueSizeBySample asserts every value serializes to the same
// length as sample.
func (b *Builder[K, V]) ConstantValueSizeBySample(sample V) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	b.constantValueSample = sample
	b.valueSizeSource = sizeConstantSample
	return b
}

// ActualChunkSize overrides the computed chunk size.
func (b *Builder[K, V]) ActualChunkSize(n int64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n < 1 {
		return b.failField(InvalidConfig, "actualChunkSize", n, ">= 1", "actualChunkSize must be >= 1, got %d", n)
	}
	b.actualChunkSize = n
	return b
}

// ActualChunksPerSegment overrides the computed chunks-per-segment. Valid
// only alongside EntriesPerSegment, ActualSegments, and (ActualChunkSize
// or constant-sized entries).
func (b *Builder[K, V]) ActualChunksPerSegment(n int64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n < 1 {
		return b.failField(InvalidConfig, "actualChunksPerSegment", n, ">= 1", "actualChunksPerSegment must be >= 1, got %d", n)
	}
	b.actualChunksPerSegment = n
	return b
}

// EntriesPerSegment overrides the computed entries-per-segment.
func (b *Builder[K, V]) EntriesPerSegment(n int64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n < 1 {
		return b.failField(InvalidConfig, "entriesPerSegment", n, ">= 1", "entriesPerSegment must be >= 1, got %d", n)
	}
	b.entriesPerSegment = n
	return b
}

// ActualSegments overrides the computed segment count.
func (b *Builder[K, V]) ActualSegments(n int64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n < 1 || n > sizing.MaxSegments {
		return b.failField(InvalidConfig, "actualSegments", n, fmt.Sprintf("[1, %d]", sizing.MaxSegments), "actualSegments must be in [1, %d], got %d", sizing.MaxSegments, n)
	}
	b.actualSegments = n
	return b
}

// MinSegments floors the segment count.
func (b *Builder[K, V]) MinSegments(n int64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n < 1 {
		return b.failField(InvalidConfig, "minSegments", n, ">= 1", "minSegments must be >= 1, got %d", n)
	}
	b.minSegments = n
	return b
}

// MaxChunksPerEntry caps the slot value field.
func (b *Builder[K, V]) MaxChunksPerEntry(n int64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n < 1 {
		return b.failField(InvalidConfig, "maxChunksPerEntry", n, ">= 1", "maxChunksPerEntry must be >= 1, got %d", n)
	}
	b.maxChunksPerEntry = n
	return b
}

// ValueAlignment sets entry/value alignment; must be a power of two.
func (b *Builder[K, V]) ValueAlignment(n int64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if n < 1 || n&(n-1) != 0 {
		return b.failField(InvalidConfig, "valueAlignment", n, "power of two", "valueAlignment must be a power of two, got %d", n)
	}
	b.valueAlignment = n
	return b
}

// Replicated adds per-entry replication metadata.
func (b *Builder[K, V]) Replicated(replicated bool) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	b.replicated = replicated
	if replicated {
		b.mode = ModeReplicatedMap
	} else {
		b.mode = ModeMap
	}
	return b
}

// ChecksumEntries sets the per-entry checksum tri-state.
func (b *Builder[K, V]) ChecksumEntries(mode ChecksumMode) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	b.checksumEntries = mode
	return b
}

// MaxBloatFactor bounds total memory expansion via tiers, in [1, 1000].
func (b *Builder[K, V]) MaxBloatFactor(f float64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if math.IsNaN(f) || f < 1.0 || f > 1000.0 {
		return b.failField(InvalidConfig, "maxBloatFactor", f, "[1, 1000]", "maxBloatFactor must be in [1, 1000], got %v", f)
	}
	b.maxBloatFactor = f
	return b
}

// AllowSegmentTiering enables or disables overflow tiers.
func (b *Builder[K, V]) AllowSegmentTiering(allow bool) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	b.allowSegmentTiering = allow
	return b
}

// NonTieredSegmentsPercentile sets the load percentile segments must
// accommodate without tiering, in (0.5, 1).
func (b *Builder[K, V]) NonTieredSegmentsPercentile(p float64) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	if math.IsNaN(p) || p <= 0.5 || p >= 1.0 {
		return b.failField(InvalidConfig, "nonTieredSegmentsPercentile", p, "(0.5, 1)", "nonTieredSegmentsPercentile must be in (0.5, 1), got %v", p)
	}
	b.nonTieredSegmentsPercentile = p
	return b
}

// Aligned64BitMemoryOperationsAtomic governs whether an 8-byte hash-lookup
// slot width is permitted.
func (b *Builder[K, V]) Aligned64BitMemoryOperationsAtomic(atomic bool) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	b.aligned64BitAtomic = atomic
	return b
}

// Persisted declares up front whether the map will be backed by a file,
// resolving the checksumEntries "if-persisted" tri-state at plan time.
// Create infers this from its path argument if Persisted was never
// called explicitly.
func (b *Builder[K, V]) Persisted(persisted bool) *Builder[K, V] {
	if !b.checkMutable() {
		return b
	}
	b.persistedSet = true
	b.persisted = persisted
	return b
}

// Clone returns an independent builder in Configuring state with the same
// fields. Mutating the clone never affects the original's later Create.
func (b *Builder[K, V]) Clone() *Builder[K, V] {
	clone := *b
	clone.frozen = false
	clone.err = nil
	return &clone
}

func (b *Builder[K, V]) constantlySizedKeys() (bool, int64, error) {
	if b.keyOracle.StaticallyKnown() {
		if b.keySizeSource != sizeUnset {
			return false, 0, newFieldError(ConflictingConfig, "keySizeSource", b.keySizeSource, sizeUnset, "cannot set an average/sample key size on a statically-sized key type")
		}
		return true, b.keyOracle.ConstantSize(), nil
	}
	switch b.keySizeSource {
	case sizeConstantSample:
		n, err := b.keyOracle.SerializationSize(b.constantKeySample)
		if err != nil {
			return false, 0, newError(BadSample, "cannot measure constant key sample: %v", err)
		}
		return true, n, nil
	default:
		if b.keyOracle.ConstantSizeMarshaller() {
			return true, b.keyOracle.ConstantSize(), nil
		}
		return false, 0, nil
	}
}

func (b *Builder[K, V]) constantlySizedValues() (bool, int64, error) {
	if b.valueOracle.StaticallyKnown() {
		if b.valueSizeSource != sizeUnset {
			return false, 0, newFieldError(ConflictingConfig, "valueSizeSource", b.valueSizeSource, sizeUnset, "cannot set an average/sample value size on a statically-sized value type")
		}
		return true, b.valueOracle.ConstantSize(), nil
	}
	switch b.valueSizeSource {
	case sizeConstantSample:
		n, err := b.valueOracle.SerializationSize(b.constantValueSample)
		if err != nil {
			return false, 0, newError(BadSample, "cannot measure constant value sample: %v", err)
		}
		return true, n, nil
	default:
		if b.valueOracle.ConstantSizeMarshaller() {
			return true, b.valueOracle.ConstantSize(), nil
		}
		return false, 0, nil
	}
}

func (b *Builder[K, V]) resolveAverageKeySize(keyConstant bool, constantKeySize int64) (float64, error) {
	switch {
	case keyConstant:
		return float64(constantKeySize), nil
	case b.keySizeSource == sizeAverageValue:
		return b.averageKeySize, nil
	case b.keySizeSource == sizeAverageSample:
		n, err := b.keyOracle.SerializationSize(b.averageKeySample)
		if err != nil {
			return 0, newError(BadSample, "cannot measure average key sample: %v", err)
		}
		return float64(n), nil
	default:
		return 0, newFieldError(MissingSize, "averageKeySize", nil, "one of averageKeySize, averageKey, or a statically-sized key type", "key size is not defined: set averageKeySize, averageKey, or rely on a statically-sized key type")
	}
}

func (b *Builder[K, V]) resolveAverageValueSize(valueConstant bool, constantValueSize int64) (float64, error) {
	switch {
	case valueConstant:
		return float64(constantValueSize), nil
	case b.valueSizeSource == sizeAverageValue:
		return b.averageValueSize, nil
	case b.valueSizeSource == sizeAverageSample:
		n, err := b.valueOracle.SerializationSize(b.averageValueSample)
		if err != nil {
			return 0, newError(BadSample, "cannot measure average value sample: %v", err)
		}
		return float64(n), nil
	default:
		return 0, newFieldError(MissingSize, "averageValueSize", nil, "one of averageValueSize, averageValue, or a statically-sized value type", "value size is not defined: set averageValueSize, averageValue, or rely on a statically-sized value type")
	}
}

// preEmit resolves every derived value exactly once, runs the planning
// pipeline, and returns the frozen Layout. Called by CreateLayout.
func (b *Builder[K, V]) preEmit() (Layout, error) {
	if b.err != nil {
		return Layout{}, b.err
	}

	keyConstant, constantKeySize, err := b.constantlySizedKeys()
	if err != nil {
		return Layout{}, err
	}
	valueConstant, constantValueSize, err := b.constantlySizedValues()
	if err != nil {
		return Layout{}, err
	}

	averageKeySize, err := b.resolveAverageKeySize(keyConstant, constantKeySize)
	if err != nil {
		return Layout{}, err
	}
	averageValueSize, err := b.resolveAverageValueSize(valueConstant, constantValueSize)
	if err != nil {
		return Layout{}, err
	}

	if b.actualChunksPerSegment > 0 {
		othersManual := b.entriesPerSegment > 0 &&
			(b.actualChunkSize > 0 || (keyConstant && valueConstant)) &&
			b.actualSegments > 0
		if !othersManual {
			return Layout{}, newFieldError(ConflictingConfig, "actualChunksPerSegment", b.actualChunksPerSegment, "entriesPerSegment, actualSegments, and actualChunkSize all manual",
				"actualChunksPerSegment is set but entriesPerSegment, actualSegments, and actualChunkSize are not all manual")
		}
	}
	if b.actualChunksPerSegment > 0 && b.entriesPerSegment > b.actualChunksPerSegment {
		return Layout{}, newFieldError(ConflictingConfig, "entriesPerSegment", b.entriesPerSegment, b.actualChunksPerSegment,
			"entriesPerSegment %d exceeds actualChunksPerSegment %d", b.entriesPerSegment, b.actualChunksPerSegment)
	}

	constantlySizedEntries := keyConstant && valueConstant
	resolvedChecksums := sizing.ResolveChecksums(b.resolvedChecksums(), b.persisted)

	entrySize := sizing.EntrySize(sizing.EntrySizeInputs{
		AverageKeySize:      averageKeySize,
		KeySizeMarshaller:   b.keyOracle.SizeMarshaller(),
		KeyConstant:         keyConstant,
		AverageValueSize:    averageValueSize,
		ValueSizeMarshaller: b.valueOracle.SizeMarshaller(),
		ValueConstant:       valueConstant,
		ConstantValueSize:   constantValueSize,
		ValueAlignment:      b.resolvedValueAlignment(),
		Replicated:          b.replicated,
		ChecksumEntries:     resolvedChecksums,
		ActualChunkSize:     b.actualChunkSize,
	})

	chunkSize := sizing.ChunkSize(entrySize, b.actualChunkSize, constantlySizedEntries, b.replicated)
	averageChunksPerEntry := sizing.AverageChunksPerEntry(entrySize, chunkSize, constantlySizedEntries)
	segmentInnerOffset := sizing.SegmentEntrySpaceInnerOffset(constantlySizedEntries, constantValueSize, b.resolvedValueAlignment())

	plan, err := sizing.PlanSegments(sizing.PlanSegmentsInputs{
		Entries:                     b.entries,
		AverageEntrySize:            entrySize.AverageEntrySize,
		AverageChunksPerEntry:       averageChunksPerEntry,
		AverageValueSize:            averageValueSize,
		NonTieredSegmentsPercentile: b.nonTieredSegmentsPercentile,
		MinSegments:                 b.minSegments,
		ActualSegments:              b.actualSegments,
		EntriesPerSegment:           b.entriesPerSegment,
		ActualChunksPerSegment:      b.actualChunksPerSegment,
		Aligned64BitAtomic:          b.aligned64BitAtomic,
		PageSize:                    mmapstore.PageSize(),
	})
	if err != nil {
		return Layout{}, fromSizingError(err)
	}

	valueBits := hashtable.ValueBits(plan.ChunksPerSegment)
	keyBits := hashtable.KeyBits(plan.EntriesPerSegment, valueBits)
	slotBytes := hashtable.EntrySize(keyBits, valueBits)

	persisted := b.persisted

	result, err := sizing.Assemble(sizing.AssembleInputs{
		Plan:                      plan,
		EntrySize:                 entrySize,
		ChunkSize:                 chunkSize,
		ConstantlySizedEntries:    constantlySizedEntries,
		ActualChunkSizeConfigured: b.actualChunkSize > 0,
		ValueAlignment:            b.resolvedValueAlignment(),
		SegmentEntrySpaceOffset:   segmentInnerOffset,
		MaxChunksPerEntryConfig:   b.maxChunksPerEntry,
		MaxBloatFactor:            b.maxBloatFactor,
		AllowSegmentTiering:       b.allowSegmentTiering,
		Checksums:                 b.resolvedChecksums(),
		Persisted:                 persisted,
		Replicated:                b.replicated,
		HashLookupValueBits:       valueBits,
		HashLookupKeyBits:         keyBits,
		HashLookupSlotBytes:       slotBytes,
		Aligned64BitAtomic:        b.aligned64BitAtomic,
		PageSize:                  mmapstore.PageSize(),
	})
	if err != nil {
		return Layout{}, fromSizingError(err)
	}

	b.frozen = true
	return fromSizingLayout(result, b.replicated, b.mode), nil
}

func (b *Builder[K, V]) resolvedValueAlignment() int64 {
	if b.valueAlignment > 0 {
		return b.valueAlignment
	}
	return 1
}

func (b *Builder[K, V]) resolvedChecksums() sizing.Checksums {
	return b.checksumEntries.toSizing()
}

// CreateLayout runs the planning pipeline and returns the frozen Layout,
// without allocating any backing storage. This is the core's emit().
func (b *Builder[K, V]) CreateLayout() (Layout, error) {
	return b.preEmit()
}

// Create plans a Layout and allocates a new backing region: a file at
// path if path is non-empty, or anonymous process memory otherwise. If
// Persisted was never called explicitly, it is inferred from path != "".
func (b *Builder[K, V]) Create(path string) (*Map[K, V], error) {
	return b.create(path, replication.Local{})
}

// CreateReplicated is Create, but every Put/Remove/Compute publishes a
// replication.Op to bcast after its segment lock is released.
func (b *Builder[K, V]) CreateReplicated(path string, bcast replication.Broadcaster) (*Map[K, V], error) {
	return b.create(path, bcast)
}

func (b *Builder[K, V]) create(path string, bcast replication.Broadcaster) (*Map[K, V], error) {
	if !b.persistedSet {
		b.persisted = path != ""
	}
	layout, err := b.preEmit()
	if err != nil {
		return nil, err
	}

	totalSize := layout.TotalSize()
	var region *mmapstore.Region
	if path != "" {
		region, err = mmapstore.Create(path, totalSize)
	} else {
		region, err = mmapstore.CreateAnonymous(totalSize)
	}
	if err != nil {
		return nil, fmt.Errorf("chronomap: allocate backing region: %w", err)
	}
	region.Prefault()

	return newMap[K, V](layout, region, b.keySerializer, b.valueSerializer, bcast), nil
}

// Open maps an existing file previously created by a Builder with
// equivalent configuration and reconstructs the Map handle from it. The
// caller is responsible for configuring this Builder identically to the
// one that created path; Open does not store or verify a Layout fingerprint
// in the file.
func (b *Builder[K, V]) Open(path string) (*Map[K, V], error) {
	if !b.persistedSet {
		b.persisted = true
	}
	layout, err := b.preEmit()
	if err != nil {
		return nil, err
	}
	region, err := mmapstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chronomap: open backing region: %w", err)
	}
	return newMap[K, V](layout, region, b.keySerializer, b.valueSerializer, replication.Local{}), nil
}
