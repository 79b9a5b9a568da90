package voxbooth

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Segment is a named shared memory region backed by a tmpfs file, so a
// freshly spawned process can attach by name alone instead of inheriting
// a handle. The creator is the only party allowed to unlink the backing
// file; attachers just unmap.
type Segment struct {
	name    string
	path    string
	data    []byte
	creator bool
}

func segmentDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func segmentPath(name string) string {
	return filepath.Join(segmentDir(), name)
}

// CreateSegment allocates a named segment of the given size, replacing any
// stale segment left behind by a crashed session.
func CreateSegment(name string, size int) (*Segment, error) {
	if name == "" || size <= 0 {
		return nil, NewSegmentError(fmt.Sprintf("invalid segment parameters: name=%q size=%d", name, size))
	}
	path := segmentPath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, WrapError(err, ErrCodeSegment)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, WrapError(err, ErrCodeSegment)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	// The mapping holds its own reference; the descriptor is not needed
	// after mmap.
	f.Close()
	if err != nil {
		os.Remove(path)
		return nil, WrapError(err, ErrCodeSegment)
	}
	return &Segment{name: name, path: path, data: data, creator: true}, nil
}

// AttachSegment maps an existing named segment.
func AttachSegment(name string) (*Segment, error) {
	path := segmentPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, WrapError(err, ErrCodeSegment)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, WrapError(err, ErrCodeSegment)
	}
	size := int(info.Size())
	if size <= 0 {
		f.Close()
		return nil, NewSegmentError(fmt.Sprintf("segment %q is empty", name))
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	f.Close()
	if err != nil {
		return nil, WrapError(err, ErrCodeSegment)
	}
	return &Segment{name: name, path: path, data: data}, nil
}

// Name returns the segment name used for attachment.
func (s *Segment) Name() string {
	return s.name
}

// Size returns the mapped size in bytes.
func (s *Segment) Size() int {
	return len(s.data)
}

// Bytes returns the live mapping. Writes are visible to every process
// mapping the same name.
func (s *Segment) Bytes() []byte {
	return s.data
}

// Close unmaps the segment. Each process closes its own attachment
// independently; the backing file stays until the creator unlinks it.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	if err := unix.Munmap(data); err != nil {
		return WrapError(err, ErrCodeSegment)
	}
	return nil
}

// Unlink removes the backing file. Only meaningful on the creator side,
// and only after the attaching processes have exited.
func (s *Segment) Unlink() error {
	if !s.creator {
		return NewSegmentError(fmt.Sprintf("segment %q was not created by this process", s.name))
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return WrapError(err, ErrCodeSegment)
	}
	return nil
}
