package imxengine

// shutdownController implements C11's public surface over the state
// machine: flush_all_to_disk, get_flush_progress, cancel_memory_flush,
// is_all_ram_empty. It owns no state of its own — the state machine is
// the single source of truth — but keeps C11's contract (spec §4.11)
// named and documented separately from C9's tick-by-tick mechanics.
type shutdownController struct {
	m *machine
}

func newShutdownController(m *machine) *shutdownController {
	return &shutdownController{m: m}
}

// flushAllToDisk is idempotent: calling it while a flush is already in
// progress has no effect.
func (c *shutdownController) flushAllToDisk() {
	c.m.flushAllToDisk()
}

// getFlushProgress returns 0..100 while in progress, 101 once complete.
// Monotonic within one flush session.
func (c *shutdownController) getFlushProgress() int {
	return c.m.getFlushProgress()
}

// isAllRAMEmpty is true iff no stream has a RAM-resident sector with
// count > 0.
func (c *shutdownController) isAllRAMEmpty() bool {
	return c.m.isAllRAMEmpty()
}

// cancelMemoryFlush returns immediately; effect is observed via
// getFlushProgress stabilizing below 101 and a subsequent IDLE state.
func (c *shutdownController) cancelMemoryFlush() {
	c.m.cancelMemoryFlush()
}
