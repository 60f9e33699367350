// Package buddy provides a fixed-capacity buddy allocator whose block states
// live in an implicit, array-backed binary tree.
package buddy

import "math"

const (
	// LeafSize is the minimum block size in bytes
	LeafSize = 16
	// MaxCapacity is the largest region a single allocator will manage: 4GB,
	// or the largest power of two that fits in an int on 32-bit platforms
	MaxCapacity = min(1<<32, math.MaxInt>>1+1)
)

// State is the state of a single block in the status tree
type State uint8

const (
	// Free blocks are unallocated and available whole
	Free State = iota
	// Used blocks are allocated as a single unit
	Used
	// Split blocks are divided and have capacity left in at least one child
	Split
	// Full blocks are divided and both children are Used or Full
	Full
)

func (s State) String() string {
	switch s {
	case Free:
		return "FREE"
	case Used:
		return "USED"
	case Split:
		return "SPLIT"
	case Full:
		return "FULL"
	}
	return "UNKNOWN"
}

// consumed reports whether a block has no capacity left
func (s State) consumed() bool {
	return s == Used || s == Full
}

// Address identifies an allocated block. It stores the byte offset from the
// base of the managed region plus one, so the zero value never names a block.
type Address uint64

// NilAddress is the zero Address. It is never returned by a successful
// Allocate, and releasing it is a no-op.
const NilAddress Address = 0

func addressAt(offset uint64) Address {
	return Address(offset + 1)
}

// Offset returns the byte offset of the block from the base of the region.
// It must not be called on NilAddress.
func (a Address) Offset() uint64 {
	return uint64(a) - 1
}
