package region

import "github.com/pkg/errors"

// Sim is a simulated heap backed by a fixed-capacity byte slice. It is the
// provider used in tests and anywhere a real mapping is unnecessary.
type Sim struct {
	buf []byte
	brk int
}

var _ Memory = &Sim{}

// NewSim creates a simulated heap that can grow up to maxSize bytes.
func NewSim(maxSize int) (*Sim, error) {
	if maxSize < 1 {
		return nil, errors.Errorf("invalid region capacity: %d", maxSize)
	}

	return &Sim{buf: make([]byte, maxSize)}, nil
}

func (s *Sim) Bounds() (int, int) {
	return 0, s.brk
}

func (s *Sim) Sbrk(n int) (int, error) {
	if n < 0 {
		return 0, errors.Errorf("cannot shrink the region by %d bytes", -n)
	}
	if s.brk+n > len(s.buf) {
		return 0, OutOfMemoryError
	}

	old := s.brk
	s.brk += n
	return old, nil
}

func (s *Sim) Bytes() []byte {
	return s.buf[:s.brk]
}
