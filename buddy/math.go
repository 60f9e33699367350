package buddy

import "math/bits"

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// roundUpToPowerOfTwo returns n if it is already a power of two, otherwise the
// smallest power of two greater than n. Zero is not a valid input and is
// returned unchanged; callers reject it first.
func roundUpToPowerOfTwo(n uint64) uint64 {
	if n == 0 || isPowerOfTwo(n) {
		return n
	}
	return 1 << uint(bits.Len64(n))
}

// levelForCapacity returns the number of halvings from capacity down to
// LeafSize. Anything at or below one leaf is level 0.
func levelForCapacity(capacity uint64) int {
	level := 0
	for capacity > LeafSize {
		capacity >>= 1
		level++
	}
	return level
}
