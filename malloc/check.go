package malloc

import "github.com/pkg/errors"

// Validate walks the whole heap and the free-list index and verifies every
// structural invariant. It is expensive and meant for tests and debug
// builds; when the allocator is functioning correctly it cannot return an
// error.
func (a *Allocator) Validate() error {
	_, hi := a.mem.Bounds()
	if hi < firstPayload || len(a.heap) != hi {
		return errors.Errorf("heap view is %d bytes but the region ends at %d", len(a.heap), hi)
	}

	if a.header(prologuePayload) != pack(wordSize, true, true) ||
		a.footer(prologuePayload) != pack(wordSize, true, true) {
		return errors.New("prologue tags are corrupted")
	}
	if a.word(hi-headerSize)&sizeMask != 0 || a.word(hi-headerSize)&allocBit == 0 {
		return errors.New("epilogue tag is corrupted")
	}

	var allocCount, physFreeCount, physFreeBytes int
	prevAlloc := true
	prevFreeBlock := false

	for p := firstPayload; p != hi; p = a.nextBlock(p) {
		size := a.blockSize(p)

		if p%wordSize != 0 {
			return errors.Errorf("block payload at offset %d is misaligned", p)
		}
		if size < minBlockSize || size%wordSize != 0 {
			return errors.Errorf("block at offset %d has invalid size %d", p, size)
		}
		if p+size > hi {
			return errors.Errorf("block at offset %d runs past the region end", p)
		}
		if a.isPrevAlloc(p) != prevAlloc {
			return errors.Errorf("block at offset %d disagrees with its predecessor's allocation state", p)
		}

		if a.isAlloc(p) {
			allocCount++
			storedSize, ok := a.live.Get(uint32(p))
			if !ok {
				return errors.Errorf("allocated block at offset %d is missing from the live registry", p)
			}
			if storedSize != size {
				return errors.Errorf("allocated block at offset %d has size %d but the live registry says %d", p, size, storedSize)
			}
			prevAlloc = true
			prevFreeBlock = false
			continue
		}

		if prevFreeBlock {
			return errors.Errorf("adjacent free blocks at offset %d escaped coalescing", p)
		}
		if a.footer(p) != a.header(p) {
			return errors.Errorf("free block at offset %d has mismatched header and footer", p)
		}
		if a.live.Has(uint32(p)) {
			return errors.Errorf("free block at offset %d is still in the live registry", p)
		}

		physFreeCount++
		physFreeBytes += size
		prevAlloc = false
		prevFreeBlock = true
	}

	if a.isPrevAlloc(hi) != prevAlloc {
		return errors.New("epilogue disagrees with the tail block's allocation state")
	}

	if allocCount != a.allocCount {
		return errors.Errorf("the allocation count is %d but %d allocated blocks were found", a.allocCount, allocCount)
	}
	if a.live.Count() != allocCount {
		return errors.Errorf("the live registry holds %d entries but %d allocated blocks were found", a.live.Count(), allocCount)
	}
	if physFreeBytes != a.freeBytes {
		return errors.Errorf("the free byte counter is %d but the free blocks add up to %d", a.freeBytes, physFreeBytes)
	}

	return a.validateBins(physFreeCount)
}

// validateBins checks list integrity, class membership and the ordering
// that best-fit search relies on, then reconciles the bin population with
// the physical free block count.
func (a *Allocator) validateBins(physFreeCount int) (err error) {
	defer func() {
		// A corrupted link word can send the traversal outside the heap;
		// report that as a validation failure rather than a crash.
		if r := recover(); r != nil {
			err = errors.Errorf("free list traversal left the heap: %v", r)
		}
	}()

	linkedCount := 0
	for i := 0; i < binCount; i++ {
		prev := 0
		prevSize := 0
		for p := int(a.bins[i]); p != 0; p = a.nextFree(p) {
			if !a.contains(p) {
				return errors.Errorf("class %d links to offset %d outside the region", i, p)
			}
			if a.isAlloc(p) {
				return errors.Errorf("class %d contains the allocated block at offset %d", i, p)
			}

			size := a.blockSize(p)
			if classIndex(size) != i {
				return errors.Errorf("block of size %d at offset %d is filed under class %d", size, p, i)
			}
			if i < exactClasses && size != minBlockSize+i*wordSize {
				return errors.Errorf("exact class %d contains a block of size %d", i, size)
			}
			if i >= exactClasses && size < prevSize {
				return errors.Errorf("class %d is not sorted: size %d follows size %d", i, size, prevSize)
			}
			if a.prevFree(p) != prev {
				return errors.Errorf("block at offset %d has a broken back link", p)
			}

			prev = p
			prevSize = size
			linkedCount++
		}
	}

	if linkedCount != physFreeCount {
		return errors.Errorf("the free index holds %d blocks but the heap holds %d free blocks", linkedCount, physFreeCount)
	}
	if linkedCount != a.freeCount {
		return errors.Errorf("the free block counter is %d but the free index holds %d blocks", a.freeCount, linkedCount)
	}

	return nil
}
