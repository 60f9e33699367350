// Package mpool serializes access to a buddy allocator so that it can be
// shared between goroutines, and keeps a set of pre-allocated blocks.
package mpool

import (
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"

	"github.com/shenjiangwei/buddyAllocator/buddy"
)

const (
	MB = 1024 * 1024
	KB = 1024
)

// ErrPoolClosed is returned by operations on a closed pool
var ErrPoolClosed = errors.New("memory pool closed")

// PoolStats represents memory pool statistics
type PoolStats struct {
	TotalAllocations uint64
	PoolHits         uint64
	PoolMisses       uint64
	FailedAllocs     uint64
	TotalFrees       uint64
	PoolFreeHits     uint64
	PoolFreeMisses   uint64
}

// pooled is a block reserved when the pool is created
type pooled struct {
	addr buddy.Address
	size uint64
	used bool
}

// MemoryPool represents a memory pool structure
type MemoryPool struct {
	mu        sync.Mutex
	allocator *buddy.Allocator
	prealloc  []pooled
	live      mapset.Set // addresses handed out directly by the allocator
	stats     PoolStats
	closed    bool
}

// NewMemoryPool creates a new memory pool over allocator, reserving one block
// for every entry in sizes. The pool takes ownership of the allocator.
func NewMemoryPool(allocator *buddy.Allocator, sizes []uint64) (*MemoryPool, error) {
	pool := &MemoryPool{
		allocator: allocator,
		prealloc:  make([]pooled, 0, len(sizes)),
		live:      mapset.NewThreadUnsafeSet(),
	}

	for _, size := range sizes {
		addr, err := allocator.Allocate(size)
		if err != nil {
			pool.releasePrealloc()
			return nil, fmt.Errorf("failed to pre-allocate %d byte block: %w", size, err)
		}
		pool.prealloc = append(pool.prealloc, pooled{
			addr: addr,
			size: allocator.BlockSize(addr),
		})
	}

	logrus.Debugf("Memory pool created with %d pre-allocated blocks, %d bytes remaining",
		len(pool.prealloc), allocator.Remaining())
	return pool, nil
}

// Allocate allocates memory from the memory pool
func (p *MemoryPool) Allocate(size uint64) (buddy.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return buddy.NilAddress, ErrPoolClosed
	}
	p.stats.TotalAllocations++

	if size > 0 {
		for i := range p.prealloc {
			if !p.prealloc[i].used && p.prealloc[i].size >= size {
				p.prealloc[i].used = true
				p.stats.PoolHits++
				return p.prealloc[i].addr, nil
			}
		}
	}

	p.stats.PoolMisses++
	addr, err := p.allocator.Allocate(size)
	if err != nil {
		p.stats.FailedAllocs++
		return buddy.NilAddress, err
	}
	p.live.Add(addr)
	return addr, nil
}

// Free releases memory back to the memory pool. Freeing an address the pool
// did not hand out, or one that is already free, is a no-op.
func (p *MemoryPool) Free(addr buddy.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.stats.TotalFrees++

	for i := range p.prealloc {
		if p.prealloc[i].addr == addr {
			// a stale free of a pre-allocated block must not hand it out twice
			if p.prealloc[i].used {
				p.prealloc[i].used = false
				p.stats.PoolFreeHits++
			}
			return nil
		}
	}

	p.stats.PoolFreeMisses++
	if p.live.Contains(addr) {
		p.live.Remove(addr)
		p.allocator.Release(addr)
	}
	return nil
}

// UsedSize returns the number of bytes held by allocated blocks, including
// the pre-allocated ones.
func (p *MemoryPool) UsedSize() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocator.Used()
}

// Remaining returns the number of bytes still free in the allocator
func (p *MemoryPool) Remaining() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocator.Remaining()
}

// Capacity returns the size of the managed region
func (p *MemoryPool) Capacity() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocator.Capacity()
}

// Stats returns a snapshot of the pool statistics
func (p *MemoryPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Outstanding returns the number of blocks currently handed out
func (p *MemoryPool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.live.Cardinality()
	for _, b := range p.prealloc {
		if b.used {
			n++
		}
	}
	return n
}

func (p *MemoryPool) releasePrealloc() {
	for _, b := range p.prealloc {
		p.allocator.Release(b.addr)
	}
	p.prealloc = nil
}

// Close releases every block, destroys the allocator and logs the pool
// statistics. Closing a closed pool does nothing.
func (p *MemoryPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.releasePrealloc()
	for _, addr := range p.live.ToSlice() {
		p.allocator.Release(addr.(buddy.Address))
	}
	p.live.Clear()

	s := p.stats
	logrus.WithFields(logrus.Fields{
		"allocations": s.TotalAllocations,
		"hits":        s.PoolHits,
		"misses":      s.PoolMisses,
		"failed":      s.FailedAllocs,
		"frees":       s.TotalFrees,
		"freeHits":    s.PoolFreeHits,
		"freeMisses":  s.PoolFreeMisses,
	}).Info("Memory pool closed")

	if err := p.allocator.Destroy(); err != nil {
		return fmt.Errorf("failed to destroy allocator: %w", err)
	}
	return nil
}
