package malloc

import "github.com/launchdarkly/go-jsonstream/v3/jwriter"

// HeapJsonData populates a json object with usage totals and the ordered
// physical block map.
func (a *Allocator) HeapJsonData(json jwriter.ObjectState) {
	_, hi := a.mem.Bounds()

	json.Name("TotalBytes").Int(hi)
	json.Name("FreeBytes").Int(a.freeBytes)
	json.Name("Allocations").Int(a.allocCount)
	json.Name("FreeRanges").Int(a.freeCount)

	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	for p := firstPayload; p != hi; p = a.nextBlock(p) {
		obj := arrayState.Object()

		obj.Name("Offset").Int(p)
		obj.Name("Size").Int(a.blockSize(p))
		if a.isAlloc(p) {
			obj.Name("Type").String("ALLOCATED")
		} else {
			obj.Name("Type").String("FREE")
		}

		obj.End()
	}
}
