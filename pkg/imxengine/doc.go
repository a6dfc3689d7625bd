// Package imxengine implements a tiered sector-based storage engine for
// embedded telemetry streams.
//
// A fixed pool of small, fixed-size sectors lives in RAM. Each sensor or
// control stream appends samples into a singly-linked chain of sectors.
// When RAM usage crosses a high-water mark, the engine migrates the oldest
// chains to batched disk files under a bucketed directory layout, recording
// every mutation in a write-ahead recovery journal so a crash at any point
// leaves the engine recoverable on the next [Open].
//
// # Basic usage
//
//	eng, err := imxengine.Open(imxengine.Config{RootPath: "/var/lib/telemetry"})
//	if err != nil {
//	    // handle err
//	}
//	defer eng.Close()
//
//	eng.RegisterStream(100, imxengine.RecordTSD, 0) // sensor id 100
//	err = eng.Append(100, 0x10000000)
//
//	for {
//	    eng.Tick(time.Now())
//	}
//
// # Concurrency
//
// The engine is driven by a single cooperative loop: [Engine.Tick] performs
// at most one bounded unit of background work (one disk file created,
// deleted, or verified) and returns. There are no background goroutines
// inside the core. All public methods must be called from the same
// goroutine; see spec §5.
//
// # Error handling
//
// Fallible operations return one of the sentinel errors in this package.
// The state machine itself never panics on an I/O error: it records the
// failure in [Snapshot], quarantines corrupt disk files, and resumes on
// the next [Engine.Tick].
package imxengine
