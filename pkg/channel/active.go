package channel

import "github.com/samsamfire/bplib/pkg/store"

// activeSlot is one entry of the active table: a direct-mapped array
// indexed by cid mod N (spec §3/§9). An empty slot has occupied=false; the
// occupied bool is the vacancy sentinel (the spec's array-of-storage-IDs
// with a distinguished "vacant" value, made explicit here instead of
// reserving a sentinel storage.StorageID value).
type activeSlot struct {
	occupied  bool
	storageID store.StorageID
	retxAt    uint64 // monotonic nanoseconds this bundle is next due for retransmit
}

// activeTable is the fixed-size, direct-mapped slot array owned by one
// channel.
type activeTable struct {
	slots []activeSlot
}

func newActiveTable(n int) *activeTable {
	return &activeTable{slots: make([]activeSlot, n)}
}

func (a *activeTable) index(cid uint64) int {
	return int(cid % uint64(len(a.slots)))
}

func (a *activeTable) get(cid uint64) activeSlot {
	return a.slots[a.index(cid)]
}

func (a *activeTable) set(cid uint64, id store.StorageID, retxAt uint64) {
	a.slots[a.index(cid)] = activeSlot{occupied: true, storageID: id, retxAt: retxAt}
}

func (a *activeTable) vacate(cid uint64) {
	a.slots[a.index(cid)] = activeSlot{}
}

// occupiedCount reports how many slots currently hold an unacknowledged
// bundle, for gauge instrumentation.
func (a *activeTable) occupiedCount() int {
	n := 0
	for _, s := range a.slots {
		if s.occupied {
			n++
		}
	}
	return n
}
