package malloc

import "encoding/binary"

// The free-list index is an array of doubly-linked lists threaded through
// the link words of the free blocks themselves. Links are stored as 4-byte
// offsets from the region base; 0 lands inside the prologue padding and is
// the nil sentinel, since no payload can ever live there.

func classIndex(size int) int {
	if size <= exactLimit {
		return (size - minBlockSize) / wordSize
	}

	i := (exactLimit - minBlockSize) / wordSize
	for s := size; i < binCount-1 && s > exactLimit; s /= 2 {
		i++
	}
	return i
}

func (a *Allocator) nextFree(p int) int {
	return int(binary.LittleEndian.Uint32(a.heap[p:]))
}

func (a *Allocator) setNextFree(p, q int) {
	binary.LittleEndian.PutUint32(a.heap[p:], uint32(q))
}

func (a *Allocator) prevFree(p int) int {
	return int(binary.LittleEndian.Uint32(a.heap[p+headerSize:]))
}

func (a *Allocator) setPrevFree(p, q int) {
	binary.LittleEndian.PutUint32(a.heap[p+headerSize:], uint32(q))
}

// insertBlock links a free block into its class. Exact classes push at the
// head; power-of-two classes splice before the first entry of equal or
// greater size, keeping the list non-decreasing so the first admissible
// entry during search is also the best fit.
func (a *Allocator) insertBlock(p int) {
	if a.isAlloc(p) {
		panic("cannot insert an allocated block into the free index")
	}

	size := a.blockSize(p)
	i := classIndex(size)

	next := int(a.bins[i])
	prev := 0
	if size > exactLimit {
		for next != 0 && size > a.blockSize(next) {
			prev = next
			next = a.nextFree(next)
		}
	}

	a.setNextFree(p, next)
	a.setPrevFree(p, prev)
	if next != 0 {
		a.setPrevFree(next, p)
	}
	if prev != 0 {
		a.setNextFree(prev, p)
	} else {
		a.bins[i] = uint32(p)
	}

	a.freeCount++
	a.freeBytes += size
}

func (a *Allocator) unlinkBlock(p int) {
	if a.isAlloc(p) {
		panic("cannot unlink an allocated block from the free index")
	}

	size := a.blockSize(p)
	next := a.nextFree(p)
	prev := a.prevFree(p)

	if next != 0 {
		a.setPrevFree(next, prev)
	}
	if prev != 0 {
		a.setNextFree(prev, next)
	} else {
		i := classIndex(size)
		if int(a.bins[i]) != p {
			panic("block was not at the head of its class list")
		}
		a.bins[i] = uint32(next)
	}

	a.freeCount--
	a.freeBytes -= size
}

// findFit returns the best-fitting free block for a padded size, or 0.
// The starting class holds nothing smaller than the request only in exact
// classes; power-of-two classes are scanned in size order.
func (a *Allocator) findFit(size int) int {
	for i := classIndex(size); i < binCount; i++ {
		for p := int(a.bins[i]); p != 0; p = a.nextFree(p) {
			if a.blockSize(p) >= size {
				return p
			}
		}
	}
	return 0
}
