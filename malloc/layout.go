package malloc

import (
	"encoding/binary"
	"math"
)

// Block grammar. A block is framed by 4-byte little-endian boundary tags
// packing size | prevAlloc<<1 | alloc; sizes are multiples of wordSize so
// the low three bits are free for the flags. The header sits at payload-4.
// Free blocks duplicate the header in a footer at payload+size-8 and carry
// two 4-byte region-relative list links at the start of the payload.
// Allocated blocks have neither footer nor links; that space is payload.
const (
	wordSize   = 8
	dwordSize  = 16
	headerSize = 4

	// minBlockSize fits one header, two list links and one footer.
	minBlockSize = 16
	// maxUserSize keeps the padded size representable in a boundary tag.
	maxUserSize = math.MaxUint32&^0x7 - dwordSize

	allocBit     = 0x1
	prevAllocBit = 0x2
	sizeMask     = ^uint32(0x7)

	// prologuePayload and firstPayload locate the fixed heap frame built
	// by reset: 4 bytes of padding, the two prologue tags, then blocks.
	prologuePayload = wordSize
	firstPayload    = dwordSize
)

// Size classes. Sizes up to exactLimit get a bin per size step; everything
// above shares a few power-of-two bins that are kept sorted.
const (
	exactLimit       = 256
	exactClasses     = (exactLimit-minBlockSize)/wordSize + 1
	binCount         = exactClasses + 7
	defaultChunkSize = 256
)

func pack(size int, prevAlloc, alloc bool) uint32 {
	word := uint32(size)
	if prevAlloc {
		word |= prevAllocBit
	}
	if alloc {
		word |= allocBit
	}
	return word
}

// adjustSize pads a user request with header overhead and rounds it to the
// block grammar.
func adjustSize(n int) int {
	if n <= minBlockSize-headerSize {
		return minBlockSize
	}
	return (n + headerSize + wordSize - 1) &^ (wordSize - 1)
}

func (a *Allocator) word(off int) uint32 {
	return binary.LittleEndian.Uint32(a.heap[off:])
}

func (a *Allocator) putWord(off int, word uint32) {
	binary.LittleEndian.PutUint32(a.heap[off:], word)
}

func (a *Allocator) header(p int) uint32 {
	return a.word(p - headerSize)
}

func (a *Allocator) blockSize(p int) int {
	return int(a.header(p) & sizeMask)
}

func (a *Allocator) isAlloc(p int) bool {
	return a.header(p)&allocBit != 0
}

func (a *Allocator) isPrevAlloc(p int) bool {
	return a.header(p)&prevAllocBit != 0
}

func (a *Allocator) setHeader(p, size int, prevAlloc, alloc bool) {
	a.putWord(p-headerSize, pack(size, prevAlloc, alloc))
}

// setFooter mirrors the header at the end of a free block. The footer is
// what lets coalescing walk backward into a free predecessor.
func (a *Allocator) setFooter(p, size int, prevAlloc, alloc bool) {
	a.putWord(p+size-wordSize, pack(size, prevAlloc, alloc))
}

func (a *Allocator) footer(p int) uint32 {
	return a.word(p + a.blockSize(p) - wordSize)
}

// setPrevAllocFlag rewrites only the prevAlloc bit of a block's header.
// The target is an allocated block, the epilogue, or a free block that the
// caller merges into its predecessor right afterward (which rewrites both
// tags), so the footer never needs the same treatment.
func (a *Allocator) setPrevAllocFlag(p int, prevAlloc bool) {
	word := a.header(p)
	if prevAlloc {
		word |= prevAllocBit
	} else {
		word &^= prevAllocBit
	}
	a.putWord(p-headerSize, word)
}

func (a *Allocator) nextBlock(p int) int {
	return p + a.blockSize(p)
}

// prevBlock steps backward through the predecessor's footer. Only valid
// when the predecessor is free.
func (a *Allocator) prevBlock(p int) int {
	return p - int(a.word(p-wordSize)&sizeMask)
}
