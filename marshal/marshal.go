// Package marshal defines the serialization capability surfaces the layout
// planner treats as opaque collaborators: a length-prefix codec
// (SizeMarshaller) and a per-type size oracle (Marshaller, Oracle).
//
// The planner never serializes anything itself. It only needs three facts
// about a key or value type: is its size fixed by the type (staticallyKnown),
// is it fixed at runtime by configuration (constant size), and, failing
// both, how big is a representative sample. Marshaller captures exactly
// those three facts; Oracle adapts a Marshaller into the calls the
// chronomap Builder makes while resolving sizes for internal/sizing.
package marshal

import "errors"

// ErrCannotMeasureSample is returned when a Marshaller can't determine the
// serialized size of a user-supplied sample (spec's BadSample case).
var ErrCannotMeasureSample = errors.New("marshal: marshaller cannot measure sample")

// SizeMarshaller encodes a length prefix and reports how many bytes that
// prefix takes for a given length. Used for the key/value length prefix
// stored ahead of each serialized key or value.
type SizeMarshaller interface {
	// StoringLength returns the number of bytes used to encode n as a
	// length prefix. n is always >= 0.
	StoringLength(n int64) int

	// WriteSize encodes n into dst, returning the number of bytes written.
	// len(dst) must be >= StoringLength(n).
	WriteSize(dst []byte, n int64) int

	// ReadSize decodes a length prefix from the front of src, returning the
	// decoded value and the number of bytes consumed.
	ReadSize(src []byte) (n int64, consumed int)
}

// Marshaller reports everything the layout planner needs to know about the
// serialized footprint of values of type T, without actually being asked to
// serialize one during planning.
type Marshaller[T any] interface {
	// StaticallyKnown reports whether every value of T serializes to the
	// same number of bytes by construction of the type itself (e.g. a fixed
	// width integer), as opposed to being constant only because the user
	// asserted it via a sample.
	StaticallyKnown() bool

	// ConstantSize returns the fixed serialized size in bytes and true, if
	// the type has one (whether statically known or user-asserted via a
	// sample). Returns (0, false) for genuinely variable-length types.
	ConstantSize() (int64, bool)

	// SerializationSize returns the serialized size of sample. Returns
	// ErrCannotMeasureSample if this marshaller can't measure without
	// actually running the full serialization path.
	SerializationSize(sample T) (int64, error)

	// SizeMarshaller returns the length-prefix codec this marshaller uses
	// to store a value's actual length alongside the value.
	SizeMarshaller() SizeMarshaller
}

// Oracle adapts a Marshaller[T] into the three capability queries
// spec.md's SerializationOracle names: staticallyKnown, constantSize, and
// serializationSize(sample). It is a thin, allocation-free wrapper;
// internal/sizing holds neither a Marshaller nor an Oracle, only the
// SizeMarshaller the Builder passes it.
type Oracle[T any] struct {
	m Marshaller[T]
}

// NewOracle wraps m as an Oracle.
func NewOracle[T any](m Marshaller[T]) Oracle[T] {
	return Oracle[T]{m: m}
}

// StaticallyKnown reports whether T's size is fixed by the type itself.
func (o Oracle[T]) StaticallyKnown() bool {
	return o.m.StaticallyKnown()
}

// ConstantSizeMarshaller reports whether this type has a constant
// serialized size, whether statically known or sample-asserted.
func (o Oracle[T]) ConstantSizeMarshaller() bool {
	_, ok := o.m.ConstantSize()
	return ok
}

// ConstantSize returns the constant size in bytes. The caller must have
// already checked ConstantSizeMarshaller(); calling this when there is no
// constant size returns 0.
func (o Oracle[T]) ConstantSize() int64 {
	n, _ := o.m.ConstantSize()
	return n
}

// SerializationSize measures sample, or returns ErrCannotMeasureSample.
func (o Oracle[T]) SerializationSize(sample T) (int64, error) {
	return o.m.SerializationSize(sample)
}

// SizeMarshaller returns the underlying length-prefix codec.
func (o Oracle[T]) SizeMarshaller() SizeMarshaller {
	return o.m.SizeMarshaller()
}
