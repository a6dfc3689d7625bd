package imxengine

import "github.com/imxengine/imxengine/internal/imxmetrics"

// allocator manages a fixed pool of N RAM sectors via a bitmap. Allocation
// is deterministic (lowest-free-index-first) so tests are repeatable.
//
// allocator has no locking of its own: the engine is single-threaded
// cooperative (spec §5), so every method must be called from the one
// driver goroutine.
type allocator struct {
	total     int
	bitmap    []uint64 // 1 bit per sector; set == allocated
	reserved  int       // sectors [0, reserved) are never handed out
	freeCount int

	allocCount      uint64
	deallocCount    uint64
	allocFailures   uint64
	peakUsed        int
}

// newAllocator creates an allocator over `total` sectors, with the first
// `reserved` sectors pre-marked allocated and never returned by alloc.
func newAllocator(total, reserved int) *allocator {
	words := (total + 63) / 64

	a := &allocator{
		total:    total,
		bitmap:   make([]uint64, words),
		reserved: reserved,
	}

	for i := range reserved {
		a.setBit(i)
	}

	a.freeCount = total - reserved

	return a
}

func (a *allocator) setBit(i int) {
	a.bitmap[i/64] |= 1 << uint(i%64)
}

func (a *allocator) clearBit(i int) {
	a.bitmap[i/64] &^= 1 << uint(i%64)
}

func (a *allocator) testBit(i int) bool {
	return a.bitmap[i/64]&(1<<uint(i%64)) != 0
}

// alloc returns the lowest-numbered free sector, or [InvalidSector] if the
// pool is exhausted. alloc only updates the bitmap and counters; it does
// not touch the sector's bytes, which the stream writer clears and whose
// trailer it sets to EndOfChain before use.
func (a *allocator) alloc() Sector {
	for i := a.reserved; i < a.total; i++ {
		if !a.testBit(i) {
			a.setBit(i)
			a.freeCount--
			a.allocCount++

			used := a.total - a.freeCount
			if used > a.peakUsed {
				a.peakUsed = used
			}

			imxmetrics.RecordAllocation()

			return Sector(i)
		}
	}

	a.allocFailures++
	imxmetrics.RecordAllocationFailure()

	return InvalidSector
}

// free marks a used sector free. Freeing an already-free or out-of-range
// sector returns [ErrInvalidSector] and does not mutate state.
func (a *allocator) free(s Sector) error {
	i := int(s)
	if i < a.reserved || i >= a.total {
		return ErrInvalidSector
	}

	if !a.testBit(i) {
		return ErrInvalidSector
	}

	a.clearBit(i)
	a.freeCount++
	a.deallocCount++
	imxmetrics.RecordDeallocation()

	return nil
}

// isAllocated reports whether s is currently allocated (and in-range).
func (a *allocator) isAllocated(s Sector) bool {
	i := int(s)
	if i < 0 || i >= a.total {
		return false
	}

	return a.testBit(i)
}

func (a *allocator) countFree() int {
	return a.freeCount
}

func (a *allocator) countUsed() int {
	return a.total - a.reserved - a.freeCount
}

// fragmentationPercent returns the number of free runs longer than 1,
// divided by the total free count, scaled to a percentage (spec §4.1).
func (a *allocator) fragmentationPercent() int {
	if a.freeCount == 0 {
		return 0
	}

	runs := 0
	runLen := 0

	for i := a.reserved; i < a.total; i++ {
		if a.testBit(i) {
			if runLen > 1 {
				runs++
			}

			runLen = 0

			continue
		}

		runLen++
	}

	if runLen > 1 {
		runs++
	}

	return runs * 100 / a.freeCount
}

func (a *allocator) usagePercent() int {
	if a.total == 0 {
		return 0
	}

	return a.countUsed() * 100 / a.total
}
