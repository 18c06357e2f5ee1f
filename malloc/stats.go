package malloc

import "github.com/memkit/segfit"

// AllocationCount returns the number of live allocations.
func (a *Allocator) AllocationCount() int {
	return a.allocCount
}

// FreeRegionsCount returns the number of maximal free block runs in the
// heap. Because freed blocks coalesce eagerly, this equals the free index
// population.
func (a *Allocator) FreeRegionsCount() int {
	return a.freeCount
}

// SumFreeSize returns the number of free bytes available without growing
// the region.
func (a *Allocator) SumFreeSize() int {
	return a.freeBytes
}

// IsEmpty reports whether the heap holds no live allocations.
func (a *Allocator) IsEmpty() bool {
	return a.allocCount == 0
}

// AddStatistics sums this allocator's usage counters into stats.
func (a *Allocator) AddStatistics(stats *segfit.Statistics) {
	_, hi := a.mem.Bounds()
	stats.RegionBytes += hi
	stats.AllocationCount += a.allocCount
	stats.AllocationBytes += hi - firstPayload - a.freeBytes
	stats.FreeBytes += a.freeBytes
}

// AddDetailedStatistics walks the heap and sums per-block statistics into
// stats. Considerably slower than AddStatistics.
func (a *Allocator) AddDetailedStatistics(stats *segfit.DetailedStatistics) {
	_, hi := a.mem.Bounds()
	stats.RegionBytes += hi

	for p := firstPayload; p != hi; p = a.nextBlock(p) {
		if a.isAlloc(p) {
			stats.AddAllocation(a.blockSize(p))
		} else {
			stats.AddFreeRange(a.blockSize(p))
		}
	}
}
