package malloc_test

import (
	"testing"

	"github.com/memkit/segfit"
	"github.com/memkit/segfit/malloc"
	"github.com/stretchr/testify/require"
)

func fillPayload(alloc *malloc.Allocator, p int, seed byte) {
	payload := alloc.Bytes(p)
	for i := range payload {
		payload[i] = seed + byte(i)
	}
}

func requirePayload(t *testing.T, alloc *malloc.Allocator, p int, seed byte, length int) {
	t.Helper()
	payload := alloc.Bytes(p)
	require.GreaterOrEqual(t, len(payload), length)
	for i := 0; i < length; i++ {
		require.Equal(t, seed+byte(i), payload[i], "payload byte %d was not preserved", i)
	}
}

func TestReallocShrinkInPlace(t *testing.T) {
	alloc := testAllocator(t, 1<<16)

	p := alloc.Malloc(100)
	require.NotZero(t, p)
	fillPayload(alloc, p, 0x11)

	q := alloc.Realloc(p, 50)
	require.Equal(t, p, q)
	requirePayload(t, alloc, q, 0x11, 50)
	require.NoError(t, alloc.Validate())

	// The split remainder merges with the trailing free space into a
	// single free run right after the shrunk block.
	require.Equal(t, 1, alloc.FreeRegionsCount())

	var stats segfit.DetailedStatistics
	stats.Clear()
	alloc.AddDetailedStatistics(&stats)
	require.GreaterOrEqual(t, stats.FreeRangeSizeMin, 16)
}

func TestReallocShrinkBelowSplitThreshold(t *testing.T) {
	alloc := testAllocator(t, 1<<16)

	p := alloc.Malloc(100)
	require.NotZero(t, p)
	fillPayload(alloc, p, 0x21)
	sizeBefore := alloc.UsableSize(p)

	// Too little slack to carve a minimum block out of.
	q := alloc.Realloc(p, 97)
	require.Equal(t, p, q)
	require.Equal(t, sizeBefore, alloc.UsableSize(q))
	requirePayload(t, alloc, q, 0x21, 97)
	require.NoError(t, alloc.Validate())
}

func TestReallocGrowsIntoFreeSuccessor(t *testing.T) {
	alloc := testAllocator(t, 1<<16)

	p := alloc.Malloc(100)
	require.NotZero(t, p)
	fillPayload(alloc, p, 0x31)

	// The rest of the initial chunk sits free right after p.
	q := alloc.Realloc(p, 180)
	require.Equal(t, p, q)
	requirePayload(t, alloc, q, 0x31, 100)
	require.GreaterOrEqual(t, alloc.UsableSize(q), 180)
	require.NoError(t, alloc.Validate())
}

func TestReallocRelocates(t *testing.T) {
	alloc := testAllocator(t, 1<<20)

	p := alloc.Malloc(100)
	require.NotZero(t, p)
	fillPayload(alloc, p, 0x41)

	// Exhaust the space behind p so growing in place is impossible.
	var wedges []int
	for i := 0; i < 16; i++ {
		w := alloc.Malloc(24)
		require.NotZero(t, w)
		wedges = append(wedges, w)
	}

	q := alloc.Realloc(p, 200)
	require.NotZero(t, q)
	require.NotEqual(t, p, q)
	requirePayload(t, alloc, q, 0x41, 100)

	// The old block is gone.
	require.Zero(t, alloc.UsableSize(p))
	require.NoError(t, alloc.Validate())

	for _, w := range wedges {
		alloc.Free(w)
	}
	alloc.Free(q)
	require.NoError(t, alloc.Validate())
	require.Equal(t, 1, alloc.FreeRegionsCount())
}

func TestReallocNilAndZero(t *testing.T) {
	alloc := testAllocator(t, 1<<16)

	p := alloc.Realloc(0, 64)
	require.NotZero(t, p)
	require.Equal(t, 1, alloc.AllocationCount())

	require.Zero(t, alloc.Realloc(p, 0))
	require.Equal(t, 0, alloc.AllocationCount())
	require.NoError(t, alloc.Validate())
}

func TestReallocInvalidPointer(t *testing.T) {
	alloc := testAllocator(t, 1<<16)

	p := alloc.Malloc(64)
	require.NotZero(t, p)
	before := alloc.SumFreeSize()

	require.Zero(t, alloc.Realloc(p+4, 32))
	require.Zero(t, alloc.Realloc(1<<28, 32))
	require.Zero(t, alloc.Realloc(p, -1))
	require.Equal(t, before, alloc.SumFreeSize())
	require.Equal(t, 1, alloc.AllocationCount())
	require.NoError(t, alloc.Validate())
}

func TestReallocFailureLeavesBlockUntouched(t *testing.T) {
	alloc := testAllocator(t, 512)

	p := alloc.Malloc(64)
	require.NotZero(t, p)
	fillPayload(alloc, p, 0x51)

	require.Zero(t, alloc.Realloc(p, 1<<20))
	requirePayload(t, alloc, p, 0x51, 64)
	require.Equal(t, 1, alloc.AllocationCount())
	require.NoError(t, alloc.Validate())
}
