package vsq

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// Storage is the interface queue construction works against: a byte buffer
// plus a way to release whatever backs it. A single-instance Queue only
// ever needs MemoryStorage; the split Tail/Head pair needs SharedStorage
// when producer and consumer run in different OS processes, since both
// sides must end up with independent mmap views of the same physical
// pages.
type Storage interface {
	// Data returns the buffer backing the queue, head, or tail.
	Data() []byte
	// Close releases any resources associated with the storage.
	Close() error
}

// MemoryStorage implements Storage with a plain heap allocation. It is the
// right choice for a single-instance Queue (or for a split Tail/Head pair
// that only needs to cross goroutines, not processes).
type MemoryStorage struct {
	data []byte
}

// NewMemoryStorage allocates a storage buffer of exactly size bytes.
func NewMemoryStorage(size uint32) *MemoryStorage {
	return &MemoryStorage{data: make([]byte, size)}
}

func (s *MemoryStorage) Data() []byte { return s.data }
func (s *MemoryStorage) Close() error { return nil }

// SharedStorage implements Storage using a memfd and mmap, so the same
// physical pages can be mapped independently into more than one process.
// A producer creates one with NewSharedStorage, passes FileDescriptor()
// to the consumer process (over a unix socket or as an inherited fd
// across fork/exec), and the consumer maps it with OpenSharedStorage.
type SharedStorage struct {
	data []byte
	fd   int
	own  bool
}

// NewSharedStorage creates a new anonymous shared memory region of at
// least size bytes backed by memfd_create, and maps it into the caller's
// address space. The region is rounded up to whole pages, since that is
// the granularity mmap shares at anyway. The returned storage owns the
// fd and closes it on Close.
func NewSharedStorage(name string, size uint32) (*SharedStorage, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("vsq: memfd_create failed: %w", err)
	}

	success := false
	defer func() {
		if !success {
			unix.Close(fd)
		}
	}()

	size = pageAlignedSize(size)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("vsq: ftruncate failed: %w", err)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("vsq: mmap failed: %w", err)
	}

	s := &SharedStorage{data: data, fd: fd, own: true}
	runtime.SetFinalizer(s, (*SharedStorage).Close)
	success = true
	return s, nil
}

// OpenSharedStorage maps an existing shared memory fd (typically
// received from another process) into the caller's address space. size
// is rounded up to whole pages, matching what NewSharedStorage created.
// The storage does not own fd and will not close it.
func OpenSharedStorage(fd int, size uint32) (*SharedStorage, error) {
	data, err := unix.Mmap(fd, 0, int(pageAlignedSize(size)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("vsq: mmap failed: %w", err)
	}
	s := &SharedStorage{data: data, fd: fd, own: false}
	runtime.SetFinalizer(s, (*SharedStorage).Close)
	return s, nil
}

func (s *SharedStorage) Data() []byte        { return s.data }
func (s *SharedStorage) FileDescriptor() int { return s.fd }

// Close unmaps the shared region and, if this storage created the
// underlying memfd, closes it.
func (s *SharedStorage) Close() error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("vsq: munmap failed: %w", err)
		}
		s.data = nil
	}
	if s.own && s.fd != -1 {
		if err := unix.Close(s.fd); err != nil {
			return fmt.Errorf("vsq: close failed: %w", err)
		}
		s.fd = -1
	}
	runtime.SetFinalizer(s, nil)
	return nil
}

// pageAlignedSize rounds size up to the system page size, matching how
// mmap rounds allocations regardless of the caller's requested length.
func pageAlignedSize(size uint32) uint32 {
	pageSize := uint32(os.Getpagesize())
	return roundUp(size, pageSize)
}
