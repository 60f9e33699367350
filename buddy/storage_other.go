//go:build !unix

package buddy

// MmapStorage falls back to the heap where mmap is not available
type MmapStorage struct {
	HeapStorage
}
