// Package bits provides low-level bit manipulation and integer-sizing
// primitives shared by the layout planner and the runtime.
package bits

import "math/bits"

// FastRange32 maps a 64-bit hash uniformly to [0, n) returning uint32.
// Uses the "fastrange" technique: multiply and take high bits.
// This is the standard way to map hashes to ranges without modulo bias.
func FastRange32(hash uint64, n uint32) uint32 {
	if n == 0 {
		return 0
	}
	hi, _ := bits.Mul64(hash, uint64(n))
	return uint32(hi)
}

// FastRange64 maps a 64-bit hash uniformly to [0, n) returning int. Behaves
// like FastRange32 but takes a 64-bit n; it is used both for segment
// routing and for a hash-lookup table's home slot.
func FastRange64(hash uint64, n uint64) int {
	if n == 0 {
		return 0
	}
	hi, _ := bits.Mul64(hash, n)
	return int(hi)
}

// IsPowerOfTwo reports whether n is a power of two. n <= 0 is never a power
// of two.
func IsPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= max(n, min).
// min itself must be a power of two (or <= 1); callers in this module only
// ever pass 1 as a floor.
func NextPowerOfTwo(n, min int64) int64 {
	if min < 1 {
		min = 1
	}
	target := n
	if min > target {
		target = min
	}
	if target <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(target-1))
}

// GCD returns the greatest common divisor of a and b via the Euclidean
// algorithm. GCD(a, 0) == a.
func GCD(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// AlignUp rounds x up to the nearest multiple of a, where a is a power of
// two. AlignUp(x, 1) == x.
func AlignUp(x, a int64) int64 {
	return (x + a - 1) &^ (a - 1)
}
