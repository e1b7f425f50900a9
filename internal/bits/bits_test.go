package bits

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"testing"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewSource(int64((testSeed1 ^ s1) ^ (testSeed2 ^ s2))))
}

// TestFastRange32Monotonicity verifies that for a fixed n,
// FastRange32 is monotone: h1 < h2 implies FastRange32(h1,n) <= FastRange32(h2,n).
func TestFastRange32Monotonicity(t *testing.T) {
	rng := newTestRNG(t)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		n := uint32(rng.Int63n(math.MaxUint32)) + 1 // n in [1, MaxUint32]
		h1 := rng.Uint64()
		h2 := rng.Uint64()
		if h1 > h2 {
			h1, h2 = h2, h1
		}

		r1 := FastRange32(h1, n)
		r2 := FastRange32(h2, n)
		if r1 > r2 {
			t.Fatalf("iter %d: monotonicity violated: FastRange32(0x%X, %d)=%d > FastRange32(0x%X, %d)=%d",
				i, h1, n, r1, h2, n, r2)
		}
	}
}

// TestFastRange32Range verifies that the result is always in [0, n).
func TestFastRange32Range(t *testing.T) {
	rng := newTestRNG(t)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		n := uint32(rng.Int63n(math.MaxUint32)) + 1 // n in [1, MaxUint32]
		h := rng.Uint64()

		got := FastRange32(h, n)
		if got >= n {
			t.Fatalf("iter %d: FastRange32(0x%X, %d)=%d >= %d",
				i, h, n, got, n)
		}
	}
}

// TestFastRange32EdgeCases tests deterministic edge cases:
// n=0->0, n=1->0, n=MaxUint32->result<MaxUint32, n=MaxUint32-1->result<MaxUint32-1,
// h=0->0, h=MaxUint64->n-1.
func TestFastRange32EdgeCases(t *testing.T) {
	// n=0 always returns 0
	for _, h := range []uint64{0, 1, math.MaxUint64, 0xDEADBEEF} {
		if got := FastRange32(h, 0); got != 0 {
			t.Errorf("FastRange32(0x%X, 0) = %d, want 0", h, got)
		}
	}

	// n=1 always returns 0
	for _, h := range []uint64{0, 1, math.MaxUint64, 0xDEADBEEF, math.MaxUint64 / 2} {
		if got := FastRange32(h, 1); got != 0 {
			t.Errorf("FastRange32(0x%X, 1) = %d, want 0", h, got)
		}
	}

	// n=MaxUint32 -> result < MaxUint32
	got := FastRange32(math.MaxUint64, math.MaxUint32)
	if got >= math.MaxUint32 {
		t.Errorf("FastRange32(MaxUint64, MaxUint32) = %d, want < MaxUint32", got)
	}
	if got != math.MaxUint32-1 {
		t.Errorf("FastRange32(MaxUint64, MaxUint32) = %d, want %d", got, uint32(math.MaxUint32-1))
	}

	// n=MaxUint32-1 -> result < MaxUint32-1
	got2 := FastRange32(math.MaxUint64, math.MaxUint32-1)
	if got2 >= math.MaxUint32-1 {
		t.Errorf("FastRange32(MaxUint64, MaxUint32-1) = %d, want < %d", got2, uint32(math.MaxUint32-1))
	}

	// h=0 always maps to 0 for any n
	for n := uint32(1); n <= 100; n++ {
		if got := FastRange32(0, n); got != 0 {
			t.Errorf("FastRange32(0, %d) = %d, want 0", n, got)
		}
	}

	// h=MaxUint64 maps to n-1 for any n >= 2
	for n := uint32(2); n <= 100; n++ {
		got := FastRange32(math.MaxUint64, n)
		if got != n-1 {
			t.Errorf("FastRange32(MaxUint64, %d) = %d, want %d", n, got, n-1)
		}
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	cases := map[int64]bool{
		-2: false, -1: false, 0: false, 1: true, 2: true, 3: false,
		4: true, 1023: false, 1024: true, 1 << 30: true,
	}
	for n, want := range cases {
		if got := IsPowerOfTwo(n); got != want {
			t.Errorf("IsPowerOfTwo(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := []struct{ n, min, want int64 }{
		{0, 1, 1},
		{1, 1, 1},
		{2, 1, 2},
		{3, 1, 4},
		{5, 1, 8},
		{1024, 1, 1024},
		{1025, 1, 2048},
		{3, 16, 16},
		{100, 8, 128},
	}
	for _, tc := range cases {
		if got := NextPowerOfTwo(tc.n, tc.min); got != tc.want {
			t.Errorf("NextPowerOfTwo(%d, %d) = %d, want %d", tc.n, tc.min, got, tc.want)
		}
		if !IsPowerOfTwo(NextPowerOfTwo(tc.n, tc.min)) {
			t.Errorf("NextPowerOfTwo(%d, %d) is not itself a power of two", tc.n, tc.min)
		}
	}
}

func TestGCD(t *testing.T) {
	cases := []struct{ a, b, want int64 }{
		{8, 4, 4}, {4, 8, 4}, {7, 13, 1}, {0, 5, 5}, {5, 0, 5}, {270, 192, 6},
	}
	for _, tc := range cases {
		if got := GCD(tc.a, tc.b); got != tc.want {
			t.Errorf("GCD(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestAlignUp(t *testing.T) {
	cases := []struct{ x, a, want int64 }{
		{0, 8, 0}, {1, 8, 8}, {8, 8, 8}, {9, 8, 16}, {17, 4, 20}, {5, 1, 5},
	}
	for _, tc := range cases {
		if got := AlignUp(tc.x, tc.a); got != tc.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tc.x, tc.a, got, tc.want)
		}
	}
}

func TestFastRange64Range(t *testing.T) {
	rng := newTestRNG(t)
	for i := 0; i < 10000; i++ {
		n := uint64(rng.Int63n(1<<20)) + 1
		h := rng.Uint64()
		got := FastRange64(h, n)
		if got < 0 || uint64(got) >= n {
			t.Fatalf("FastRange64(0x%X, %d) = %d, out of [0, %d)", h, n, got, n)
		}
	}
}
