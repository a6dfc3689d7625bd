package imxengine

import "errors"

// Sentinel errors returned by imxengine operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, imxengine.ErrDataCorrupt) {
//	    // the offending file has already been quarantined under corrupted/
//	}
var (
	// ErrInvalidSector indicates a sector address is out of range, refers to
	// a sector that isn't allocated, or was double-freed.
	//
	// Recovery: the caller passed a stale or out-of-range handle; there is
	// no retry that helps without re-deriving the address.
	ErrInvalidSector = errors.New("imxengine: invalid sector")

	// ErrOutOfBounds indicates a word offset plus length exceeds a sector's
	// payload.
	//
	// Recovery: programming error; shrink the offset/length.
	ErrOutOfBounds = errors.New("imxengine: out of bounds")

	// ErrBufferTooSmall indicates the caller-provided buffer capacity (in
	// bytes) is smaller than the requested word count demands.
	//
	// Recovery: grow the destination buffer and retry.
	ErrBufferTooSmall = errors.New("imxengine: buffer too small")

	// ErrNoFreeSectors indicates both the RAM allocator and the disk
	// fallback path failed to provide a sector.
	//
	// Recovery: call [Engine.FlushAllToDisk] to reclaim RAM, or grow
	// [Config.TotalSectors] / the available disk budget.
	ErrNoFreeSectors = errors.New("imxengine: no free sectors")

	// ErrDataCorrupt indicates a disk file's magic, version, or checksum
	// failed validation. The offending file has been moved under
	// corrupted/.
	//
	// Recovery: when a read hits it, the stream is marked invalid; data loss
	// for that chain is permanent, but the rest of the engine continues.
	ErrDataCorrupt = errors.New("imxengine: data corrupt")

	// ErrIOError indicates an underlying filesystem failure unrelated to
	// disk space or corruption.
	//
	// Recovery: depends on the underlying cause; the state machine resumes
	// at the next tick regardless.
	ErrIOError = errors.New("imxengine: io error")

	// ErrDiskFull indicates ENOSPC was observed while migrating a chain to
	// disk.
	//
	// Recovery: free disk space; the affected stream remains in RAM.
	ErrDiskFull = errors.New("imxengine: disk full")

	// ErrCancelled indicates an operation was aborted because
	// [Engine.CancelMemoryFlush] was requested.
	//
	// Recovery: none needed; this is the expected outcome of a cancel.
	ErrCancelled = errors.New("imxengine: cancelled")

	// ErrStreamNotFound indicates a stream id has not been registered via
	// [Engine.RegisterStream].
	ErrStreamNotFound = errors.New("imxengine: stream not found")

	// ErrStreamInvalid indicates a stream was marked invalid after a read
	// hit a corrupt disk file (the stream then no longer accepts appends or
	// reads), or that an append carried the wrong number of words for the
	// stream's record type. The chain walk also returns it for a cycle or a
	// trailer pointing at a freed index; that check does not mark the
	// stream invalid.
	ErrStreamInvalid = errors.New("imxengine: stream invalid")

	// ErrClosed indicates the [Engine] has already been shut down.
	ErrClosed = errors.New("imxengine: closed")

	// ErrConfigInvalid indicates [Config] failed validation before Open
	// could construct an engine.
	//
	// Recovery: fix the offending field and call [Open] again; no state was
	// created.
	ErrConfigInvalid = errors.New("imxengine: config invalid")

	// ErrCatalogCorrupt indicates the on-disk catalog database failed to
	// open or is structurally inconsistent with history/ on disk.
	//
	// Recovery: call the catalog's rebuild operation; the catalog is a
	// derived index, never the source of truth.
	ErrCatalogCorrupt = errors.New("imxengine: catalog corrupt")
)
