package marshal

import "fmt"

// Bytes is the default Marshaller for []byte. It has no fixed size: every
// slice is measured by its own length, prefixed with a stop-bit length.
type Bytes struct{}

func (Bytes) StaticallyKnown() bool                 { return false }
func (Bytes) ConstantSize() (int64, bool)           { return 0, false }
func (Bytes) SerializationSize(b []byte) (int64, error) { return int64(len(b)), nil }
func (Bytes) SizeMarshaller() SizeMarshaller        { return StopBitSizeMarshaller{} }

func (Bytes) Encode(dst []byte, v []byte) int {
	return copy(dst, v)
}

func (Bytes) Decode(src []byte) ([]byte, int) {
	out := make([]byte, len(src))
	n := copy(out, src)
	return out[:n], n
}

// String is the default Marshaller for string, with the same variable-size
// treatment as Bytes.
type String struct{}

func (String) StaticallyKnown() bool                 { return false }
func (String) ConstantSize() (int64, bool)           { return 0, false }
func (String) SerializationSize(s string) (int64, error) { return int64(len(s)), nil }
func (String) SizeMarshaller() SizeMarshaller        { return StopBitSizeMarshaller{} }

func (String) Encode(dst []byte, v string) int {
	return copy(dst, v)
}

func (String) Decode(src []byte) (string, int) {
	return string(src), len(src)
}

// Fixed is the default Marshaller for any type whose encoded size never
// varies — boxed primitives such as int32, int64, uint64, float64. Size is
// the number of bytes the caller's codec writes per value; it is the
// caller's responsibility to supply a codec that actually emits exactly
// Size bytes for every value of T, since Fixed has no way to verify that.
type Fixed[T any] struct {
	Size int64
}

func (f Fixed[T]) StaticallyKnown() bool       { return true }
func (f Fixed[T]) ConstantSize() (int64, bool) { return f.Size, true }

func (f Fixed[T]) SerializationSize(sample T) (int64, error) {
	return f.Size, nil
}

func (f Fixed[T]) SizeMarshaller() SizeMarshaller {
	return ConstantSizeMarshaller{Size: f.Size}
}

// NewFixed builds a Fixed[T] marshaller for a type of the given constant
// byte width, e.g. NewFixed[int64](8).
func NewFixed[T any](size int64) Fixed[T] {
	if size <= 0 {
		panic(fmt.Sprintf("marshal: fixed size must be positive, got %d", size))
	}
	return Fixed[T]{Size: size}
}
