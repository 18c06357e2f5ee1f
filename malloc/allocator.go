// Package malloc implements a segregated-fit dynamic storage allocator
// over a region.Memory byte range.
//
// The heap is partitioned into variable-size blocks framed by boundary
// tags. Free blocks are indexed by an array of size-class lists: one bin
// per size step from 16 to 256 bytes, then a handful of power-of-two bins
// kept sorted by size. Freed blocks are merged with free physical
// neighbors immediately, so no two adjacent free blocks ever survive a
// public call. Allocated blocks carry no footer; the prevAlloc header bit
// of the successor stands in for it.
//
// Payload addresses are integer offsets from the region base. 0 is the
// null pointer. The allocator assumes a single mutator and performs no
// internal locking.
package malloc

import (
	"context"
	"math/bits"

	"github.com/dolthub/swiss"
	"github.com/memkit/segfit"
	"github.com/memkit/segfit/region"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// CreateOptions contains optional settings when creating an Allocator
type CreateOptions struct {
	// ChunkSize is the minimum number of bytes the region is extended by
	// when no free block can satisfy a request. Defaults to 256.
	ChunkSize int

	// Logger, when provided, receives a diagnostic record for every
	// absorbed invalid free and for failed region extensions. Invalid
	// reallocs return 0 without a record.
	Logger *slog.Logger
}

// Allocator carves allocations out of a single growing byte region.
type Allocator struct {
	mem    region.Memory
	heap   []byte
	chunk  int
	logger *slog.Logger

	bins []uint32

	allocCount int
	freeCount  int
	freeBytes  int

	// live maps every allocated payload offset to its block size. It is
	// what distinguishes a real payload pointer from an aligned offset
	// that merely lands inside the region.
	live *swiss.Map[uint32, int]
}

var _ segfit.Validatable = &Allocator{}

// New builds an allocator over mem. The region is extended to hold the
// heap frame and one chunk-sized free block; a region that is already
// larger is adopted whole.
func New(mem region.Memory, options CreateOptions) (*Allocator, error) {
	if mem == nil {
		return nil, errors.New("an allocator requires a memory region")
	}

	chunk := options.ChunkSize
	if chunk == 0 {
		chunk = defaultChunkSize
	}
	chunk = segfit.AlignUp(chunk, wordSize)
	if chunk < minBlockSize {
		return nil, errors.Errorf("chunk size %d is below the minimum block size", chunk)
	}

	lo, hi := mem.Bounds()
	if lo != 0 {
		return nil, errors.Errorf("region must start at offset 0, not %d", lo)
	}
	if hi%wordSize != 0 {
		return nil, errors.Errorf("region end %d is not aligned to %d", hi, wordSize)
	}

	a := &Allocator{
		mem:    mem,
		chunk:  chunk,
		logger: options.Logger,
		bins:   make([]uint32, binCount),
	}

	if needed := firstPayload + chunk - hi; needed > 0 {
		if _, err := mem.Sbrk(needed); err != nil {
			return nil, errors.Wrap(err, "failed to build the initial heap")
		}
	}

	a.reset()
	return a, nil
}

// reset rebuilds the heap frame over the current region: alignment
// padding, the prologue pair, a single free block spanning everything in
// between, and the epilogue tag. Counters, bins and the live registry
// start empty.
func (a *Allocator) reset() {
	_, hi := a.mem.Bounds()
	a.heap = a.mem.Bytes()

	for i := range a.bins {
		a.bins[i] = 0
	}
	a.live = swiss.NewMap[uint32, int](64)
	a.allocCount = 0
	a.freeCount = 0
	a.freeBytes = 0

	a.putWord(0, 0)
	a.setHeader(prologuePayload, wordSize, true, true)
	a.setFooter(prologuePayload, wordSize, true, true)

	size := hi - firstPayload
	a.setHeader(firstPayload, size, true, false)
	a.setFooter(firstPayload, size, true, false)
	a.setHeader(hi, 0, false, true)

	a.insertBlock(firstPayload)
}

// Clear instantly frees every allocation and rebuilds the heap frame. The
// region keeps its current extent; it is never returned to the provider.
func (a *Allocator) Clear() {
	a.reset()
	segfit.DebugValidate(a)
}

// contains reports whether p lies inside the region. The upper bound is
// lax by one word so the epilogue payload address can be probed.
func (a *Allocator) contains(p int) bool {
	_, hi := a.mem.Bounds()
	return p >= 0 && p < hi+wordSize
}

// validPayload reports whether p is a payload address this allocator
// handed out and has not yet reclaimed.
func (a *Allocator) validPayload(p int) bool {
	_, hi := a.mem.Bounds()
	if p < firstPayload || p >= hi || p%wordSize != 0 {
		return false
	}
	return a.live.Has(uint32(p))
}

// extendHeap grows the region and shapes the fresh bytes into a free
// block. The old epilogue tag becomes the new block's header, so the tail
// block's allocation state carries over through the prevAlloc bit. Returns
// the (possibly merged) free block, or 0 when the provider refuses.
func (a *Allocator) extendHeap(bytes int) int {
	size := segfit.AlignUp(bytes, wordSize)

	old, err := a.mem.Sbrk(size)
	if err != nil {
		if a.logger != nil {
			a.logger.LogAttrs(context.Background(), slog.LevelWarn,
				"region extension failed",
				slog.Int("bytes", size),
				slog.Any("error", err))
		}
		return 0
	}
	a.heap = a.mem.Bytes()

	p := old
	prevAlloc := a.isPrevAlloc(p)
	a.setHeader(p, size, prevAlloc, false)
	a.setFooter(p, size, prevAlloc, false)
	a.setHeader(p+size, 0, false, true)

	return a.coalesce(p)
}

// coalesce merges a just-freed block with its free physical neighbors and
// links the result into its class. The prevAlloc bit of the successor is
// already 0 on entry; merging keeps it that way because the merged block
// stays free.
func (a *Allocator) coalesce(p int) int {
	size := a.blockSize(p)
	prevAlloc := a.isPrevAlloc(p)
	next := a.nextBlock(p)
	nextAlloc := a.isAlloc(next)

	switch {
	case prevAlloc && nextAlloc:

	case prevAlloc && !nextAlloc:
		a.unlinkBlock(next)
		size += a.blockSize(next)
		a.setHeader(p, size, true, false)
		a.setFooter(p, size, true, false)

	case !prevAlloc && nextAlloc:
		prev := a.prevBlock(p)
		a.unlinkBlock(prev)
		size += a.blockSize(prev)
		p = prev
		a.setHeader(p, size, a.isPrevAlloc(p), false)
		a.setFooter(p, size, a.isPrevAlloc(p), false)

	default:
		prev := a.prevBlock(p)
		a.unlinkBlock(prev)
		a.unlinkBlock(next)
		size += a.blockSize(prev) + a.blockSize(next)
		p = prev
		a.setHeader(p, size, a.isPrevAlloc(p), false)
		a.setFooter(p, size, a.isPrevAlloc(p), false)
	}

	a.insertBlock(p)
	return p
}

// place commits size bytes of a free block to an allocation. The
// remainder is split off as a new free block when it can stand on its
// own; otherwise the whole block is used and the successor learns about
// it through its prevAlloc bit.
func (a *Allocator) place(p, size int) {
	total := a.blockSize(p)
	a.unlinkBlock(p)

	if remain := total - size; remain >= minBlockSize {
		a.setHeader(p, size, a.isPrevAlloc(p), true)

		r := p + size
		a.setHeader(r, remain, true, false)
		a.setFooter(r, remain, true, false)
		a.insertBlock(r)
	} else {
		a.setHeader(p, total, a.isPrevAlloc(p), true)
		a.setPrevAllocFlag(a.nextBlock(p), true)
	}
}

// Malloc allocates n bytes and returns the payload offset, or 0 when n is
// not positive or the region cannot grow enough to satisfy the request.
// The returned offset is always a multiple of 8.
func (a *Allocator) Malloc(n int) int {
	if n <= 0 || n > maxUserSize {
		return 0
	}

	size := adjustSize(n)
	p := a.findFit(size)
	if p == 0 {
		extend := size
		if extend < a.chunk {
			extend = a.chunk
		}
		p = a.extendHeap(extend)
		if p == 0 {
			return 0
		}
	}

	a.place(p, size)
	a.live.Put(uint32(p), a.blockSize(p))
	a.allocCount++

	segfit.DebugValidate(a)
	return p
}

// Free releases an allocation. A zero, misaligned, out-of-region or
// already-free pointer is absorbed silently; user errors never corrupt the
// heap.
func (a *Allocator) Free(p int) {
	if p == 0 {
		return
	}
	if !a.validPayload(p) {
		if a.logger != nil {
			a.logger.LogAttrs(context.Background(), slog.LevelWarn,
				"ignoring free of an invalid payload pointer",
				slog.Int("offset", p))
		}
		return
	}

	size := a.blockSize(p)
	a.setHeader(p, size, a.isPrevAlloc(p), false)
	a.setFooter(p, size, a.isPrevAlloc(p), false)
	a.setPrevAllocFlag(a.nextBlock(p), false)

	a.live.Delete(uint32(p))
	a.allocCount--
	a.coalesce(p)

	segfit.DebugValidate(a)
}

// Realloc resizes an allocation. A zero p behaves as Malloc, a zero n
// behaves as Free and returns 0, and an invalid p returns 0 without side
// effects. Shrinks and grows into a free successor happen in place;
// otherwise the payload moves and the first min(n, old payload size)
// bytes are preserved. On allocation failure the old block is untouched
// and 0 is returned.
func (a *Allocator) Realloc(p, n int) int {
	if p == 0 {
		return a.Malloc(n)
	}
	if n == 0 {
		a.Free(p)
		return 0
	}
	if n < 0 || n > maxUserSize || !a.validPayload(p) {
		return 0
	}

	size := adjustSize(n)
	oldSize := a.blockSize(p)

	if size <= oldSize {
		if remain := oldSize - size; remain >= minBlockSize {
			a.setHeader(p, size, a.isPrevAlloc(p), true)
			a.live.Put(uint32(p), size)

			r := p + size
			a.setHeader(r, remain, true, false)
			a.setFooter(r, remain, true, false)
			a.setPrevAllocFlag(a.nextBlock(r), false)
			a.coalesce(r)
		}
		segfit.DebugValidate(a)
		return p
	}

	if next := a.nextBlock(p); !a.isAlloc(next) && oldSize+a.blockSize(next) >= size {
		a.unlinkBlock(next)
		total := oldSize + a.blockSize(next)

		if remain := total - size; remain >= minBlockSize {
			a.setHeader(p, size, a.isPrevAlloc(p), true)
			a.live.Put(uint32(p), size)

			r := p + size
			a.setHeader(r, remain, true, false)
			a.setFooter(r, remain, true, false)
			a.insertBlock(r)
		} else {
			a.setHeader(p, total, a.isPrevAlloc(p), true)
			a.live.Put(uint32(p), total)
			a.setPrevAllocFlag(a.nextBlock(p), true)
		}
		segfit.DebugValidate(a)
		return p
	}

	newP := a.Malloc(n)
	if newP == 0 {
		return 0
	}

	copyLen := oldSize - headerSize
	if n < copyLen {
		copyLen = n
	}
	copy(a.heap[newP:newP+copyLen], a.heap[p:p+copyLen])

	a.Free(p)
	return newP
}

// Calloc allocates a zero-filled block for count elements of size bytes
// each. Returns 0 when the product overflows or cannot be allocated.
func (a *Allocator) Calloc(count, size int) int {
	if count <= 0 || size <= 0 {
		return 0
	}
	hi, total := bits.Mul64(uint64(count), uint64(size))
	if hi != 0 || total > maxUserSize {
		return 0
	}

	p := a.Malloc(int(total))
	if p == 0 {
		return 0
	}

	payload := a.heap[p : p+a.blockSize(p)-headerSize]
	for i := range payload {
		payload[i] = 0
	}
	return p
}

// UsableSize returns the payload capacity of an allocation, which may
// exceed the requested size by alignment padding. Returns 0 for invalid
// pointers.
func (a *Allocator) UsableSize(p int) int {
	if !a.validPayload(p) {
		return 0
	}
	return a.blockSize(p) - headerSize
}

// Bytes returns the payload of an allocation as a slice over the region.
// The slice stays valid until the allocation is freed or reallocated.
// Returns nil for invalid pointers.
func (a *Allocator) Bytes(p int) []byte {
	if !a.validPayload(p) {
		return nil
	}
	end := p + a.blockSize(p) - headerSize
	return a.heap[p:end:end]
}
