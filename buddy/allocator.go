package buddy

import (
	"fmt"
	"io"
	"strings"
	"unsafe"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("pkg", "buddy")

// New creates an allocator managing capacity bytes, rounded up to a power of
// two and to at least one leaf.
func New(capacity uint64, opts ...Option) (*Allocator, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("%w: zero capacity", ErrCreationFailure)
	}
	if capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: capacity %d exceeds %d", ErrCreationFailure, capacity, uint64(MaxCapacity))
	}

	capacity = roundUpToPowerOfTwo(capacity)
	if capacity < LeafSize {
		capacity = LeafSize
	}

	a := &Allocator{storage: HeapStorage{}}
	for _, opt := range opts {
		opt(a)
	}

	buf, err := a.storage.Obtain(int(capacity))
	if err != nil {
		return nil, fmt.Errorf("%w: obtaining %d bytes: %v", ErrCreationFailure, capacity, err)
	}

	levels := levelForCapacity(capacity)
	a.tree = newStatusTree(capacity, levels)
	a.remaining = capacity
	a.buf = buf

	logger.Debugf("Created allocator: capacity %d, levels %d, %d nodes", capacity, levels, len(a.tree.nodes))
	return a, nil
}

// Destroy releases the status tree and the backing region. Destroying an
// already destroyed allocator does nothing.
func (a *Allocator) Destroy() error {
	if a == nil || a.destroyed {
		return nil
	}
	err := a.storage.Release(a.buf)
	a.buf = nil
	a.tree = nil
	a.remaining = 0
	a.destroyed = true
	if err != nil {
		return fmt.Errorf("releasing backing storage: %w", err)
	}
	logger.Debug("Destroyed allocator")
	return nil
}

// Allocate returns the address of a free block of at least size bytes. The
// block is exactly size rounded up to a power of two (and to at least one
// leaf). The search takes the leftmost available subtree at every level.
func (a *Allocator) Allocate(size uint64) (Address, error) {
	if a.destroyed {
		return NilAddress, ErrDestroyed
	}
	if size == 0 {
		return NilAddress, ErrInvalidSize
	}
	if size > a.remaining {
		logger.Debugf("Cannot allocate %d bytes, %d remaining", size, a.remaining)
		return NilAddress, ErrInsufficientSpace
	}

	want := roundUpToPowerOfTwo(size)
	if want < LeafSize {
		want = LeafSize
	}
	if want > a.remaining {
		logger.Debugf("Cannot allocate block of %d bytes, %d remaining", want, a.remaining)
		return NilAddress, ErrInsufficientSpace
	}

	t := a.tree
	i, level := 0, 0
	for level <= t.levels {
		blockSize := t.blockSize(level)
		state := t.nodes[i]

		switch {
		case blockSize == want && state == Free:
			t.claim(i)
			a.remaining -= want
			addr := addressAt(t.addressOf(i))
			logger.Debugf("Allocated block of %d bytes at offset %d, %d remaining", want, addr.Offset(), a.remaining)
			return addr, nil
		case blockSize > want && state == Free:
			t.split(i)
			i, level = leftChild(i), level+1
			continue
		case blockSize > want && state == Split:
			i, level = leftChild(i), level+1
			continue
		}

		// Used, Full, or an exact-size block that is already divided
		if !isLeftChild(i) {
			break
		}
		i = sibling(i)
	}

	logger.Debugf("No contiguous block of %d bytes, %d remaining", want, a.remaining)
	return NilAddress, ErrInsufficientSpace
}

// Release returns the block at addr to the allocator and merges it with its
// free buddies. Releasing NilAddress, an address that is not the start of a
// Used block, or any address on a destroyed allocator does nothing.
func (a *Allocator) Release(addr Address) {
	if a.destroyed || addr == NilAddress {
		return
	}
	i, ok := a.tree.locate(addr.Offset())
	if !ok {
		logger.Debugf("Ignoring release of unallocated offset %d", addr.Offset())
		return
	}
	size := a.tree.blockSize(levelOf(i))
	a.tree.release(i)
	a.remaining += size
	logger.Debugf("Released block of %d bytes at offset %d, %d remaining", size, addr.Offset(), a.remaining)
}

// Capacity returns the size of the managed region
func (a *Allocator) Capacity() uint64 {
	if a.destroyed {
		return 0
	}
	return a.tree.capacity
}

// Remaining returns the number of free bytes
func (a *Allocator) Remaining() uint64 {
	return a.remaining
}

// Used returns the number of bytes held by allocated blocks
func (a *Allocator) Used() uint64 {
	return a.Capacity() - a.remaining
}

// Levels returns the depth of the deepest level; level 0 is the whole region
func (a *Allocator) Levels() int {
	if a.destroyed {
		return 0
	}
	return a.tree.levels
}

// Status returns a copy of the status tree
func (a *Allocator) Status() []State {
	if a.destroyed {
		return nil
	}
	status := make([]State, len(a.tree.nodes))
	copy(status, a.tree.nodes)
	return status
}

// BlockSize returns the size of the allocated block at addr, or 0 if addr is
// not currently allocated.
func (a *Allocator) BlockSize(addr Address) uint64 {
	if a.destroyed || addr == NilAddress {
		return 0
	}
	i, ok := a.tree.locate(addr.Offset())
	if !ok {
		return 0
	}
	return a.tree.blockSize(levelOf(i))
}

// Bytes returns the allocated block at addr as a slice of the managed region,
// or nil if addr is not currently allocated.
func (a *Allocator) Bytes(addr Address) []byte {
	size := a.BlockSize(addr)
	if size == 0 {
		return nil
	}
	start := addr.Offset()
	return a.buf[start : start+size : start+size]
}

// MemoryUsage returns the bookkeeping overhead of the allocator in bytes
func (a *Allocator) MemoryUsage() uint64 {
	size := uint64(unsafe.Sizeof(*a))
	if a.tree != nil {
		size += uint64(unsafe.Sizeof(*a.tree))
		size += uint64(unsafe.Sizeof(State(0))) * uint64(len(a.tree.nodes))
	}
	return size
}

// Dump writes the status tree level by level
func (a *Allocator) Dump(w io.Writer) error {
	if a.destroyed {
		_, err := fmt.Fprintln(w, "destroyed")
		return err
	}
	t := a.tree
	for level := 0; level <= t.levels; level++ {
		first := firstIndex(level)
		states := make([]string, 0, 1<<uint(level))
		for i := first; i < first+(1<<uint(level)); i++ {
			states = append(states, t.nodes[i].String())
		}
		if _, err := fmt.Fprintf(w, "level %d (%d bytes): %s\n",
			level, t.blockSize(level), strings.Join(states, " ")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "remaining: %d/%d\n", a.remaining, t.capacity)
	return err
}
