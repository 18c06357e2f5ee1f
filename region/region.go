// Package region provides the byte regions that a malloc.Allocator carves
// blocks from. A region is a contiguous range [lo, hi) that only ever grows
// at hi. Addresses are plain integer offsets from the region base, so lo is
// always 0 and offset arithmetic never leaves the backing storage.
package region

import "github.com/pkg/errors"

// OutOfMemoryError is returned from Sbrk when a provider cannot grow the
// region any further.
var OutOfMemoryError error = errors.New("region cannot grow any further")

// Memory is the contract between an allocator and its region provider.
//
// Implementations are not required to be safe for concurrent use.
type Memory interface {
	// Bounds returns the current region bounds. lo is always 0.
	Bounds() (lo, hi int)
	// Sbrk grows the region by n bytes and returns the previous hi. The
	// region is unchanged when an error is returned.
	Sbrk(n int) (int, error)
	// Bytes returns the backing bytes of the current region [lo, hi). The
	// slice stays valid across Sbrk calls; only its length changes.
	Bytes() []byte
}
