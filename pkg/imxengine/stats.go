package imxengine

// Snapshot implements C10: the memory statistics snapshot from spec §3,
// refreshed on every allocator operation and at each tick.
type Snapshot struct {
	TotalSectors         int
	AvailableSectors     int
	UsedSectors          int
	FreeSectors          int
	UsagePercentage      int
	PeakUsage            int
	PeakUsagePercentage  int
	AllocationCount      uint64
	DeallocationCount    uint64
	AllocationFailures   uint64
	FragmentationLevel   int
	PendingDiskWrites    int
	JournalRecordsWritten uint64
}

// statsTracker derives a [Snapshot] from the allocator's live counters. It
// holds no independent state of its own beyond what allocator already
// tracks, aside from journal/pending counters owned by the state machine.
type statsTracker struct {
	alloc *allocator
}

func newStatsTracker(alloc *allocator) *statsTracker {
	return &statsTracker{alloc: alloc}
}

func (t *statsTracker) snapshot(pendingDiskWrites int, journalRecordsWritten uint64) Snapshot {
	total := t.alloc.total

	return Snapshot{
		TotalSectors:          total,
		AvailableSectors:      total - t.alloc.reserved,
		UsedSectors:           t.alloc.countUsed(),
		FreeSectors:           t.alloc.countFree(),
		UsagePercentage:       t.alloc.usagePercent(),
		PeakUsage:             t.alloc.peakUsed,
		PeakUsagePercentage:   peakPercent(t.alloc.peakUsed, total),
		AllocationCount:       t.alloc.allocCount,
		DeallocationCount:     t.alloc.deallocCount,
		AllocationFailures:    t.alloc.allocFailures,
		FragmentationLevel:    t.alloc.fragmentationPercent(),
		PendingDiskWrites:     pendingDiskWrites,
		JournalRecordsWritten: journalRecordsWritten,
	}
}

func peakPercent(peak, total int) int {
	if total == 0 {
		return 0
	}

	return peak * 100 / total
}
