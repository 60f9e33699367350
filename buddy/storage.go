package buddy

import "fmt"

// Storage obtains and returns the bytes of a managed region
type Storage interface {
	Obtain(size int) ([]byte, error)
	Release(buf []byte) error
}

// HeapStorage backs the region with a Go-allocated slice
type HeapStorage struct{}

func (HeapStorage) Obtain(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (HeapStorage) Release([]byte) error {
	return nil
}

// NewStorage returns the storage registered under kind ("heap" or "mmap")
func NewStorage(kind string) (Storage, error) {
	switch kind {
	case "", "heap":
		return HeapStorage{}, nil
	case "mmap":
		return MmapStorage{}, nil
	}
	return nil, fmt.Errorf("unknown storage %q", kind)
}
