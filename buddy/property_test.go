package buddy

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkTree walks the reachable part of the status tree and verifies that
// every divided block's state follows from its children, that nothing below a
// Free or Used block has been touched, and that the free bytes add up.
func checkTree(t *testing.T, a *Allocator) {
	t.Helper()
	tree := a.tree

	var free uint64
	var walk func(i int)
	walk = func(i int) {
		level := levelOf(i)
		switch tree.nodes[i] {
		case Free:
			free += tree.blockSize(level)
			assertUntouched(t, tree, i)
		case Used:
			assertUntouched(t, tree, i)
		case Split, Full:
			require.Less(t, level, tree.levels, "leaf %d is divided", i)
			l, r := tree.nodes[leftChild(i)], tree.nodes[rightChild(i)]
			want := Split
			if l.consumed() && r.consumed() {
				want = Full
			}
			require.Equal(t, want, tree.nodes[i], "node %d with children %v %v", i, l, r)
			require.False(t, l == Free && r == Free, "node %d has two free children", i)
			walk(leftChild(i))
			walk(rightChild(i))
		}
	}
	walk(0)
	require.Equal(t, a.Remaining(), free, "remaining does not match reachable free blocks")
}

func assertUntouched(t *testing.T, tree *statusTree, i int) {
	t.Helper()
	if levelOf(i) == tree.levels {
		return
	}
	for _, c := range []int{leftChild(i), rightChild(i)} {
		require.Equal(t, Free, tree.nodes[c], "node %d below %d", c, i)
		assertUntouched(t, tree, c)
	}
}

type liveBlock struct {
	addr Address
	size uint64
}

func checkLive(t *testing.T, a *Allocator, live []liveBlock) {
	t.Helper()

	var used uint64
	sorted := make([]liveBlock, len(live))
	copy(sorted, live)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].addr < sorted[j].addr })
	for i, b := range sorted {
		used += b.size
		require.Equal(t, b.size, a.BlockSize(b.addr))
		if i > 0 {
			prev := sorted[i-1]
			require.LessOrEqual(t, prev.addr.Offset()+prev.size, b.addr.Offset(), "blocks overlap")
		}
	}
	require.Equal(t, a.Capacity(), a.Remaining()+used, "conservation")
}

func TestRandomOperations(t *testing.T) {
	const capacity = 4 * KB
	rng := rand.New(rand.NewSource(42))
	a := newTestAllocator(t, capacity)

	var live []liveBlock
	for op := 0; op < 5000; op++ {
		if len(live) == 0 || rng.Float64() < 0.6 {
			size := uint64(rng.Intn(capacity/8) + 1)
			addr, err := a.Allocate(size)
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientSpace)
			} else {
				block := roundUpToPowerOfTwo(size)
				if block < LeafSize {
					block = LeafSize
				}
				live = append(live, liveBlock{addr, block})
			}
		} else {
			idx := rng.Intn(len(live))
			a.Release(live[idx].addr)
			live = append(live[:idx], live[idx+1:]...)
		}
		checkTree(t, a)
		checkLive(t, a, live)
	}

	for _, b := range live {
		a.Release(b.addr)
	}
	assert.Equal(t, uint64(capacity), a.Remaining())
	assert.Equal(t, Free, a.Status()[0])
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := newTestAllocator(t, 1*KB)

	var live []Address
	for op := 0; op < 500; op++ {
		status, remaining := a.Status(), a.Remaining()

		size := uint64(rng.Intn(128) + 1)
		addr, err := a.Allocate(size)
		if err == nil {
			a.Release(addr)
		}
		require.Equal(t, status, a.Status(), "op %d size %d", op, size)
		require.Equal(t, remaining, a.Remaining())

		// move to a different starting state
		if len(live) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(live))
			a.Release(live[idx])
			live = append(live[:idx], live[idx+1:]...)
		} else if addr, err := a.Allocate(uint64(rng.Intn(64) + 1)); err == nil {
			live = append(live, addr)
		}
	}
}

func TestCoalescingEnablesReuse(t *testing.T) {
	a := newTestAllocator(t, 256)

	var leaves []Address
	for a.Remaining() > 0 {
		addr, err := a.Allocate(LeafSize)
		require.NoError(t, err)
		leaves = append(leaves, addr)
	}
	require.Len(t, leaves, 16)

	_, err := a.Allocate(32)
	require.ErrorIs(t, err, ErrInsufficientSpace)

	// leaves 4 and 5 are buddies covering [64, 96)
	a.Release(leaves[4])
	a.Release(leaves[5])

	addr, err := a.Allocate(32)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), addr.Offset())
	checkTree(t, a)
}

func TestDeterminism(t *testing.T) {
	run := func() []Address {
		rng := rand.New(rand.NewSource(99))
		a, err := New(2 * KB)
		require.NoError(t, err)
		defer a.Destroy()

		var out, live []Address
		for op := 0; op < 1000; op++ {
			if len(live) > 0 && rng.Intn(2) == 0 {
				idx := rng.Intn(len(live))
				a.Release(live[idx])
				live = append(live[:idx], live[idx+1:]...)
				continue
			}
			addr, err := a.Allocate(uint64(rng.Intn(256) + 1))
			out = append(out, addr)
			if err == nil {
				live = append(live, addr)
			}
		}
		return out
	}

	assert.Equal(t, run(), run())
}
