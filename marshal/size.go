package marshal

// StopBitSizeMarshaller encodes a non-negative length using 7 payload bits
// per byte with the high bit as a continuation flag — the same "stop bit"
// scheme Chronicle-style stores use for variable-length prefixes, chosen
// because most keys and values are small enough to fit in one or two bytes.
type StopBitSizeMarshaller struct{}

// StoringLength returns how many bytes StopBitSizeMarshaller needs to
// encode n.
func (StopBitSizeMarshaller) StoringLength(n int64) int {
	if n < 0 {
		n = 0
	}
	length := 1
	for n >= 0x80 {
		n >>= 7
		length++
	}
	return length
}

// WriteSize encodes n into dst in stop-bit form.
func (StopBitSizeMarshaller) WriteSize(dst []byte, n int64) int {
	if n < 0 {
		n = 0
	}
	i := 0
	for n >= 0x80 {
		dst[i] = byte(n) | 0x80
		n >>= 7
		i++
	}
	dst[i] = byte(n)
	return i + 1
}

// ReadSize decodes a stop-bit length prefix from the front of src.
func (StopBitSizeMarshaller) ReadSize(src []byte) (int64, int) {
	var n int64
	var shift uint
	for i, b := range src {
		n |= int64(b&0x7f) << shift
		if b&0x80 == 0 {
			return n, i + 1
		}
		shift += 7
	}
	return n, len(src)
}

// ConstantSizeMarshaller stores no length prefix at all: every value is
// exactly Size bytes, so the length is implicit and costs zero bytes.
type ConstantSizeMarshaller struct {
	Size int64
}

// StoringLength is always 0: a constant-size marshaller never writes a
// length prefix.
func (ConstantSizeMarshaller) StoringLength(int64) int { return 0 }

// WriteSize writes nothing and returns 0.
func (ConstantSizeMarshaller) WriteSize([]byte, int64) int { return 0 }

// ReadSize reads nothing; the caller already knows Size.
func (c ConstantSizeMarshaller) ReadSize([]byte) (int64, int) { return c.Size, 0 }

// ConstantStoringLength reports that this SizeMarshaller writes the same
// number of prefix bytes (zero) no matter what length it is asked to
// encode. internal/sizing uses the presence of this method, rather than
// StopBitSizeMarshaller's variable-width encoding, to decide whether the
// worst-case entry alignment can be computed without knowing the value
// size.
func (ConstantSizeMarshaller) ConstantStoringLength() int { return 0 }
