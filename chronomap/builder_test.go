package chronomap

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/sachin-handiekar/chronomap/marshal"
)

func newBytesBuilder() *Builder[[]byte, []byte] {
	return NewBuilder[[]byte, []byte](marshal.Bytes{}, marshal.Bytes{})
}

// fixedInt64 adds a little-endian codec to marshal.Fixed[int64], which
// supplies only the sizing facts, so it can serve as a Builder key type.
type fixedInt64 struct{ marshal.Fixed[int64] }

func (fixedInt64) Encode(dst []byte, v int64) int {
	binary.LittleEndian.PutUint64(dst, uint64(v))
	return 8
}

func (fixedInt64) Decode(src []byte) (int64, int) {
	return int64(binary.LittleEndian.Uint64(src)), 8
}

func asChronomapError(t *testing.T, err error) *Error {
	t.Helper()
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("error %v is not a *chronomap.Error", err)
	}
	return ce
}

func TestCreateLayoutHappyPath(t *testing.T) {
	b := newBytesBuilder().
		Entries(1024).
		AverageKeySize(16).
		AverageValueSize(64)
	l, err := b.CreateLayout()
	if err != nil {
		t.Fatalf("CreateLayout: %v", err)
	}
	if l.Segments <= 0 || l.ChunkSize <= 0 {
		t.Errorf("suspicious layout: %+v", l)
	}
	if l.Mode != ModeMap {
		t.Errorf("Mode = %v, want ModeMap", l.Mode)
	}
}

func TestCreateLayoutMissingSizeFails(t *testing.T) {
	b := newBytesBuilder().Entries(1024)
	_, err := b.CreateLayout()
	if err == nil {
		t.Fatal("expected an error when no key/value size is configured")
	}
	if ce := asChronomapError(t, err); ce.Kind != MissingSize {
		t.Errorf("Kind = %v, want MissingSize", ce.Kind)
	}
}

func TestConstantSizedFixedKeyRejectsAverageKeySize(t *testing.T) {
	b := NewBuilder[int64, []byte](fixedInt64{marshal.NewFixed[int64](8)}, marshal.Bytes{}).
		AverageKeySize(16).
		AverageValueSize(8)
	_, err := b.CreateLayout()
	if err == nil {
		t.Fatal("expected an error: a statically-sized key type conflicts with AverageKeySize")
	}
	if ce := asChronomapError(t, err); ce.Kind != ConflictingConfig {
		t.Errorf("Kind = %v, want ConflictingConfig", ce.Kind)
	}
}

func TestFixedKeyNeedsNoSizeConfig(t *testing.T) {
	b := NewBuilder[int64, []byte](fixedInt64{marshal.NewFixed[int64](8)}, marshal.Bytes{}).
		AverageValueSize(8)
	l, err := b.CreateLayout()
	if err != nil {
		t.Fatalf("CreateLayout: %v", err)
	}
	if l.ChunkSize <= 0 {
		t.Errorf("suspicious layout: %+v", l)
	}
}

func TestEntriesRejectsNonPositive(t *testing.T) {
	b := newBytesBuilder()
	b.Entries(0)
	if ce := asChronomapError(t, b.err); ce.Kind != InvalidConfig {
		t.Errorf("Kind = %v, want InvalidConfig", ce.Kind)
	}
}

func TestAverageKeySizeRejectsNonFinite(t *testing.T) {
	b := newBytesBuilder()
	b.AverageKeySize(0)
	if b.err == nil {
		t.Fatal("expected an error for a non-positive averageKeySize")
	}
}

func TestActualSegmentsRejectsOutOfRange(t *testing.T) {
	b := newBytesBuilder()
	b.ActualSegments(0)
	if ce := asChronomapError(t, b.err); ce.Kind != InvalidConfig {
		t.Errorf("Kind = %v, want InvalidConfig", ce.Kind)
	}
}

func TestValueAlignmentRejectsNonPowerOfTwo(t *testing.T) {
	b := newBytesBuilder()
	b.ValueAlignment(3)
	if b.err == nil {
		t.Fatal("expected an error for a non-power-of-two alignment")
	}
}

func TestMaxBloatFactorRejectsOutOfRange(t *testing.T) {
	b := newBytesBuilder()
	b.MaxBloatFactor(0.5)
	if b.err == nil {
		t.Fatal("expected an error for maxBloatFactor < 1")
	}
}

func TestNonTieredSegmentsPercentileRejectsOutOfRange(t *testing.T) {
	b := newBytesBuilder()
	b.NonTieredSegmentsPercentile(0.5)
	if b.err == nil {
		t.Fatal("expected an error for a percentile <= 0.5")
	}
}

func TestMutatorsAfterCreateLayoutFailWithAlreadyFrozen(t *testing.T) {
	b := newBytesBuilder().AverageKeySize(8).AverageValueSize(8)
	if _, err := b.CreateLayout(); err != nil {
		t.Fatalf("CreateLayout: %v", err)
	}
	b.Entries(42)
	if ce := asChronomapError(t, b.err); ce.Kind != AlreadyFrozen {
		t.Errorf("Kind = %v, want AlreadyFrozen", ce.Kind)
	}
}

func TestActualChunksPerSegmentRequiresAllOthersManual(t *testing.T) {
	b := newBytesBuilder().
		AverageKeySize(8).
		AverageValueSize(8).
		ActualChunksPerSegment(4096)
	_, err := b.CreateLayout()
	if err == nil {
		t.Fatal("expected an error: actualChunksPerSegment set without entriesPerSegment/actualSegments/actualChunkSize")
	}
	if ce := asChronomapError(t, err); ce.Kind != ConflictingConfig {
		t.Errorf("Kind = %v, want ConflictingConfig", ce.Kind)
	}
}

func TestActualChunksPerSegmentSucceedsWhenEverythingIsManual(t *testing.T) {
	b := newBytesBuilder().
		AverageKeySize(8).
		AverageValueSize(8).
		ActualChunkSize(32).
		EntriesPerSegment(1024).
		ActualSegments(16).
		ActualChunksPerSegment(4096)
	l, err := b.CreateLayout()
	if err != nil {
		t.Fatalf("CreateLayout: %v", err)
	}
	if l.Segments != 16 || l.ChunksPerSegment != 4096 {
		t.Errorf("layout = %+v, want Segments=16 ChunksPerSegment=4096", l)
	}
}

func TestActualChunksPerSegmentRejectsSmallerThanEntriesPerSegment(t *testing.T) {
	b := newBytesBuilder().
		AverageKeySize(8).
		AverageValueSize(8).
		ActualChunkSize(32).
		EntriesPerSegment(8192).
		ActualSegments(16).
		ActualChunksPerSegment(4096)
	_, err := b.CreateLayout()
	if err == nil {
		t.Fatal("expected an error: entriesPerSegment exceeds actualChunksPerSegment")
	}
	if ce := asChronomapError(t, err); ce.Kind != ConflictingConfig {
		t.Errorf("Kind = %v, want ConflictingConfig", ce.Kind)
	}
}

func TestReplicatedSwitchesModeAndAddsEntryBytes(t *testing.T) {
	plain := newBytesBuilder().AverageKeySize(8).AverageValueSize(8)
	plainLayout, err := plain.CreateLayout()
	if err != nil {
		t.Fatalf("CreateLayout(plain): %v", err)
	}

	replicated := newBytesBuilder().AverageKeySize(8).AverageValueSize(8).Replicated(true)
	replicatedLayout, err := replicated.CreateLayout()
	if err != nil {
		t.Fatalf("CreateLayout(replicated): %v", err)
	}

	if replicatedLayout.Mode != ModeReplicatedMap {
		t.Errorf("Mode = %v, want ModeReplicatedMap", replicatedLayout.Mode)
	}
	if !replicatedLayout.Replicated {
		t.Error("Replicated = false, want true")
	}
	if replicatedLayout.ChunkSize <= plainLayout.ChunkSize {
		t.Errorf("replicated chunkSize %d should exceed plain chunkSize %d (extra per-entry metadata)", replicatedLayout.ChunkSize, plainLayout.ChunkSize)
	}
}

func TestChecksumEntriesYesSetsChecksumsRegardlessOfPersistence(t *testing.T) {
	b := newBytesBuilder().
		AverageKeySize(8).
		AverageValueSize(8).
		ChecksumEntries(ChecksumYes).
		Persisted(false)
	l, err := b.CreateLayout()
	if err != nil {
		t.Fatalf("CreateLayout: %v", err)
	}
	if !l.Checksums {
		t.Error("Checksums = false, want true (ChecksumYes)")
	}
}

func TestChecksumEntriesIfPersistedFollowsPersistedFlag(t *testing.T) {
	notPersisted := newBytesBuilder().AverageKeySize(8).AverageValueSize(8).Persisted(false)
	l1, err := notPersisted.CreateLayout()
	if err != nil {
		t.Fatalf("CreateLayout(not persisted): %v", err)
	}
	if l1.Checksums {
		t.Error("Checksums = true, want false when not persisted and mode is if-persisted")
	}

	persisted := newBytesBuilder().AverageKeySize(8).AverageValueSize(8).Persisted(true)
	l2, err := persisted.CreateLayout()
	if err != nil {
		t.Fatalf("CreateLayout(persisted): %v", err)
	}
	if !l2.Checksums {
		t.Error("Checksums = false, want true when persisted and mode is if-persisted")
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	original := newBytesBuilder().AverageKeySize(8).AverageValueSize(8)
	clone := original.Clone()
	clone.Entries(99)

	if _, err := original.CreateLayout(); err != nil {
		t.Fatalf("CreateLayout(original): %v", err)
	}
	// The clone must still be mutable: the original's freeze must not
	// have propagated to it.
	if clone.frozen {
		t.Error("clone became frozen when the original was created")
	}
	if _, err := clone.CreateLayout(); err != nil {
		t.Fatalf("CreateLayout(clone): %v", err)
	}
}

func TestAverageKeySampleResolvesThroughSerializationSize(t *testing.T) {
	b := NewBuilder[[]byte, []byte](marshal.Bytes{}, marshal.Bytes{}).
		AverageKey([]byte("abc")).
		AverageValueSize(8)
	l, err := b.CreateLayout()
	if err != nil {
		t.Fatalf("CreateLayout: %v", err)
	}
	if l.Segments <= 0 {
		t.Errorf("suspicious layout: %+v", l)
	}
}
