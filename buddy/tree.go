package buddy

import "math/bits"

// statusTree is an implicit binary tree of block states. The root (index 0)
// covers the whole region; node i has children 2i+1 and 2i+2. Level l holds
// 2^l blocks of capacity>>l bytes each.
type statusTree struct {
	levels   int
	capacity uint64
	nodes    []State
}

func newStatusTree(capacity uint64, levels int) *statusTree {
	return &statusTree{
		levels:   levels,
		capacity: capacity,
		nodes:    make([]State, (1<<uint(levels+1))-1),
	}
}

func leftChild(i int) int  { return 2*i + 1 }
func rightChild(i int) int { return 2*i + 2 }
func parent(i int) int     { return (i+1)/2 - 1 }

// isLeftChild is false for the root
func isLeftChild(i int) bool { return i&1 == 1 }

func sibling(i int) int {
	if isLeftChild(i) {
		return i + 1
	}
	return i - 1
}

// levelOf returns the depth of node i
func levelOf(i int) int {
	return bits.Len64(uint64(i)+1) - 1
}

// firstIndex returns the index of the leftmost node at level
func firstIndex(level int) int {
	return (1 << uint(level)) - 1
}

func (t *statusTree) blockSize(level int) uint64 {
	return t.capacity >> uint(level)
}

// addressOf returns the byte offset of the block at node i
func (t *statusTree) addressOf(i int) uint64 {
	level := levelOf(i)
	return uint64(i-firstIndex(level)) * t.blockSize(level)
}

// indexOf returns the node at level whose range contains offset
func (t *statusTree) indexOf(offset uint64, level int) int {
	return firstIndex(level) + int(offset/t.blockSize(level))
}

// split divides a free block into two free halves
func (t *statusTree) split(i int) {
	t.nodes[i] = Split
	t.nodes[leftChild(i)] = Free
	t.nodes[rightChild(i)] = Free
}

// claim marks node i Used and marks every ancestor whose children are both
// consumed as Full.
func (t *statusTree) claim(i int) {
	t.nodes[i] = Used
	for step := 0; step < t.levels && i != 0; step++ {
		if !t.nodes[sibling(i)].consumed() {
			return
		}
		i = parent(i)
		t.nodes[i] = Full
	}
}

// release marks node i Free, merges it with free buddies and demotes the Full
// ancestors above the merged block to Split.
func (t *statusTree) release(i int) {
	t.nodes[i] = Free
	for i != 0 && t.nodes[sibling(i)] == Free {
		i = parent(i)
		t.nodes[i] = Free
	}
	for i != 0 {
		i = parent(i)
		if t.nodes[i] != Full {
			return
		}
		t.nodes[i] = Split
	}
}

// locate descends from the root towards offset and returns the Used node
// starting exactly there.
func (t *statusTree) locate(offset uint64) (int, bool) {
	if offset >= t.capacity {
		return 0, false
	}
	for level := 0; level <= t.levels; level++ {
		i := t.indexOf(offset, level)
		switch t.nodes[i] {
		case Used:
			return i, t.addressOf(i) == offset
		case Free:
			return 0, false
		}
	}
	return 0, false
}
