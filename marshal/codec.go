package marshal

// Codec is the actual encode/decode half of a key or value type — the
// part the layout planner explicitly never touches, but the map handle
// that consumes a planned Layout needs in order to store anything.
type Codec[T any] interface {
	// Encode writes v into dst and returns the number of bytes written.
	// len(dst) is always at least the value Marshaller.SerializationSize
	// reported for v.
	Encode(dst []byte, v T) int

	// Decode reads a value from the front of src, returning it and the
	// number of bytes consumed.
	Decode(src []byte) (T, int)
}

// Serializer is what a Map[K, V] actually needs for each of K and V: the
// sizing facts Oracle adapts for the planner, plus the Codec the runtime
// uses to actually read and write bytes.
type Serializer[T any] interface {
	Marshaller[T]
	Codec[T]
}
