package malloc

import "golang.org/x/exp/slog"

// LogAllocations calls logFunc for every live allocation, lowest offset
// first. Diagnostic aid for finding leaked allocations.
func (a *Allocator) LogAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset, size int)) {
	_, hi := a.mem.Bounds()

	for p := firstPayload; p != hi; p = a.nextBlock(p) {
		if a.isAlloc(p) {
			logFunc(logger, p, a.blockSize(p))
		}
	}
}
