//go:build unix

package buddy

import (
	"errors"

	"golang.org/x/sys/unix"
)

// MmapStorage backs the region with an anonymous private mapping
type MmapStorage struct{}

func (MmapStorage) Obtain(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (MmapStorage) Release(buf []byte) error {
	if buf == nil {
		return nil
	}
	err := unix.Munmap(buf)
	if errors.Is(err, unix.EINVAL) {
		// already unmapped
		return nil
	}
	return err
}
