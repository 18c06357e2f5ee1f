package malloc_test

import (
	"math/rand"
	"testing"

	"github.com/memkit/segfit/malloc"
	"github.com/memkit/segfit/region"
	"github.com/stretchr/testify/require"
)

func TestValidateFreshHeap(t *testing.T) {
	alloc := testAllocator(t, 1<<16)
	require.NoError(t, alloc.Validate())
	require.Equal(t, 1, alloc.FreeRegionsCount())
	require.Equal(t, 0, alloc.AllocationCount())
}

// TestMixedStream runs a long random malloc/free/realloc stream and
// verifies the heap invariants hold throughout.
func TestMixedStream(t *testing.T) {
	mem, err := region.NewSim(1 << 23)
	require.NoError(t, err)

	alloc, err := malloc.New(mem, malloc.CreateOptions{})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(0x5e6f17))

	type block struct {
		offset int
		seed   byte
		length int
	}
	var live []block

	write := func(b block) {
		payload := alloc.Bytes(b.offset)
		for i := 0; i < b.length; i++ {
			payload[i] = b.seed + byte(i)
		}
	}
	verify := func(b block) {
		payload := alloc.Bytes(b.offset)
		require.GreaterOrEqual(t, len(payload), b.length)
		for i := 0; i < b.length; i++ {
			if payload[i] != b.seed+byte(i) {
				t.Fatalf("payload at offset %d corrupted at byte %d", b.offset, i)
			}
		}
	}

	const ops = 100000
	for op := 0; op < ops; op++ {
		action := rng.Intn(100)

		switch {
		case action < 50 || len(live) == 0:
			length := rng.Intn(500) + 1
			if rng.Intn(50) == 0 {
				length = rng.Intn(8192) + 1
			}
			p := alloc.Malloc(length)
			require.NotZero(t, p, "allocation of %d bytes failed at op %d", length, op)

			b := block{offset: p, seed: byte(rng.Intn(256)), length: length}
			write(b)
			live = append(live, b)

		case action < 80:
			i := rng.Intn(len(live))
			verify(live[i])
			alloc.Free(live[i].offset)
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]

		default:
			i := rng.Intn(len(live))
			verify(live[i])

			length := rng.Intn(1000) + 1
			p := alloc.Realloc(live[i].offset, length)
			require.NotZero(t, p, "realloc to %d bytes failed at op %d", length, op)

			preserved := live[i].length
			if length < preserved {
				preserved = length
			}
			live[i].offset = p
			live[i].length = preserved
			verify(live[i])

			live[i].length = length
			write(live[i])
		}

		// Bound the working set so frees keep pace with allocations.
		for len(live) > 300 {
			i := rng.Intn(len(live))
			verify(live[i])
			alloc.Free(live[i].offset)
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		if op%4096 == 0 {
			require.NoError(t, alloc.Validate(), "heap invariants broken at op %d", op)
		}
	}

	require.NoError(t, alloc.Validate())
	require.Equal(t, len(live), alloc.AllocationCount())

	for _, b := range live {
		verify(b)
		alloc.Free(b.offset)
	}

	require.NoError(t, alloc.Validate())
	require.True(t, alloc.IsEmpty())
	require.Equal(t, 1, alloc.FreeRegionsCount())
}
