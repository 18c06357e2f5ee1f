package region

import (
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// Map is a region backed by an anonymous memory mapping. The full capacity
// is reserved up front and Sbrk only moves the break, so block offsets stay
// stable for the life of the mapping.
type Map struct {
	mapping mmap.MMap
	brk     int
}

var _ Memory = &Map{}

// NewMap reserves an anonymous mapping of maxSize bytes and returns a
// region over it. The caller owns the mapping and must Close it.
func NewMap(maxSize int) (*Map, error) {
	if maxSize < 1 {
		return nil, errors.Errorf("invalid region capacity: %d", maxSize)
	}

	mapping, err := mmap.MapRegion(nil, maxSize, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reserve the region mapping")
	}

	return &Map{mapping: mapping}, nil
}

func (m *Map) Bounds() (int, int) {
	return 0, m.brk
}

func (m *Map) Sbrk(n int) (int, error) {
	if n < 0 {
		return 0, errors.Errorf("cannot shrink the region by %d bytes", -n)
	}
	if m.brk+n > len(m.mapping) {
		return 0, OutOfMemoryError
	}

	old := m.brk
	m.brk += n
	return old, nil
}

func (m *Map) Bytes() []byte {
	return m.mapping[:m.brk]
}

// Close releases the mapping. The region must not be used afterward.
func (m *Map) Close() error {
	err := m.mapping.Unmap()
	return errors.Wrap(err, "failed to release the region mapping")
}
