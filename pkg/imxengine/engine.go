package imxengine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/imxengine/imxengine/internal/imxcatalog"
	"github.com/imxengine/imxengine/internal/imxmetrics"
	"github.com/imxengine/imxengine/pkg/fs"
)

// Config configures a new [Engine]. Zero-valued fields fall back to the
// Default* constants in limits.go.
type Config struct {
	// RootPath is the directory the engine owns (history/, corrupted/,
	// and the recovery journal live under it). Required.
	RootPath string

	// TotalSectors is the RAM pool size (N).
	TotalSectors int

	// SectorSize is the fixed RAM sector size in bytes (S).
	SectorSize int

	// HighWaterPercent is the usage percentage that triggers migration.
	HighWaterPercent int

	// BucketSize is the number of disk sector indices grouped per bucket
	// directory.
	BucketSize int

	// DiskBase is the first extended address considered a disk index.
	DiskBase uint32

	// CancelTimeoutMS bounds CancelMemoryFlush's wait for in-flight work.
	CancelTimeoutMS int

	// DiskSectorSize is the physical disk file's packing unit in bytes;
	// RamSectorsPerDisk = DiskSectorSize / SectorSize RAM sectors are
	// batched per file (spec §4.6). Defaults to SectorSize * 128.
	DiskSectorSize int

	// FS abstracts the filesystem (production: fs.NewReal()); tests may
	// substitute fs.Chaos or fs.Crash for fault injection.
	FS fs.FS

	// Now returns the current time; defaults to time.Now. Tests may
	// substitute a deterministic clock.
	Now func() time.Time

	// MetricsEnabled turns on Prometheus recording via internal/imxmetrics
	// (C13). Recorders are no-ops when false.
	MetricsEnabled bool

	// MetricsAddr, if non-empty, starts a background /metrics HTTP
	// endpoint on this address. Ignored when MetricsEnabled is false.
	MetricsAddr string

	// CatalogEnabled turns on the derived SQLite catalog (C14) under
	// RootPath/catalog.sqlite. The engine opens and closes it and fills it
	// only through [Engine.RebuildCatalog]; bucket enumeration (C7) and
	// recovery (C8) always walk the directory, whether or not it is enabled.
	CatalogEnabled bool
}

func (c Config) withDefaults() Config {
	if c.TotalSectors == 0 {
		c.TotalSectors = DefaultTotalSectors
	}

	if c.SectorSize == 0 {
		c.SectorSize = DefaultSectorSize
	}

	if c.HighWaterPercent == 0 {
		c.HighWaterPercent = DefaultHighWaterPercent
	}

	if c.BucketSize == 0 {
		c.BucketSize = DefaultBucketSize
	}

	if c.DiskBase == 0 {
		c.DiskBase = DefaultDiskBase
	}

	if c.CancelTimeoutMS == 0 {
		c.CancelTimeoutMS = DefaultCancelTimeoutMS
	}

	if c.DiskSectorSize == 0 {
		c.DiskSectorSize = c.SectorSize * 128
	}

	if c.FS == nil {
		c.FS = fs.NewReal()
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	return c
}

func (c Config) validate() error {
	if c.RootPath == "" {
		return fmt.Errorf("root path required: %w", ErrConfigInvalid)
	}

	if c.SectorSize <= trailerSize {
		return fmt.Errorf("sector size must exceed trailer size: %w", ErrConfigInvalid)
	}

	if c.DiskSectorSize < c.SectorSize || c.DiskSectorSize%c.SectorSize != 0 {
		return fmt.Errorf("disk sector size must be a positive multiple of sector size: %w", ErrConfigInvalid)
	}

	if c.HighWaterPercent <= 0 || c.HighWaterPercent > 100 {
		return fmt.Errorf("high water percent out of range: %w", ErrConfigInvalid)
	}

	if uint32(c.TotalSectors) >= c.DiskBase {
		return fmt.Errorf("disk base must exceed max RAM sector index: %w", ErrConfigInvalid)
	}

	return nil
}

// Engine is the facade (C15) wiring the allocator, sector I/O, chain
// manager, stream table, address space, disk file layer, bucketed
// directory, recovery journal, and state machine into one handle per
// spec §9 ("pass an Engine handle explicitly through the public API").
type Engine struct {
	cfg Config

	pool     *ramPool
	alloc    *allocator
	chains   *chainManager
	dirs     *bucketDirectory
	disk     *diskFileLayer
	journal  *journal
	addr     *addressSpace
	streams  *streamManager
	machine  *machine
	shutdown *shutdownController
	stats    *statsTracker
	catalog  *imxcatalog.Catalog

	metricsStop func() error
	closed      bool
}

// Open creates or recovers an engine rooted at cfg.RootPath. Recovery
// (spec §4.8) runs to completion before Open returns: the journal is
// replayed, corrupt disk files are quarantined, and the journal is
// rotated to its .bak sibling.
func Open(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	pool := newRAMPool(cfg.TotalSectors, cfg.SectorSize)
	alloc := newAllocator(cfg.TotalSectors, sectorReservedPrefix)
	chains := newChainManager(pool, alloc)
	dirs := newBucketDirectory(cfg.RootPath, cfg.BucketSize)
	disk := newDiskFileLayer(cfg.FS, dirs, cfg.Now)
	jrn := newJournal(cfg.FS, dirs, cfg.Now)
	addr := newAddressSpace(cfg.DiskBase, pool, chains, disk)
	streams := newStreamManager(pool, alloc, chains, addr, disk, cfg.SectorSize)

	ramSectorsPerDisk := cfg.DiskSectorSize / cfg.SectorSize

	m := newMachine(pool, alloc, chains, addr, disk, jrn, streams, cfg.SectorSize, ramSectorsPerDisk, cfg.HighWaterPercent, cfg.CancelTimeoutMS)

	eng := &Engine{
		cfg:      cfg,
		pool:     pool,
		alloc:    alloc,
		chains:   chains,
		dirs:     dirs,
		disk:     disk,
		journal:  jrn,
		addr:     addr,
		streams:  streams,
		machine:  m,
		shutdown: newShutdownController(m),
		stats:    newStatsTracker(alloc),
	}

	err = eng.recover()
	if err != nil {
		return nil, err
	}

	imxmetrics.Enable(cfg.MetricsEnabled)

	if cfg.MetricsEnabled && cfg.MetricsAddr != "" {
		stop, serveErr := imxmetrics.Serve(cfg.MetricsAddr)
		if serveErr != nil {
			return nil, fmt.Errorf("start metrics server: %w", serveErr)
		}

		eng.metricsStop = stop
	}

	if cfg.CatalogEnabled {
		cat, catErr := imxcatalog.Open(filepath.Join(cfg.RootPath, "catalog.sqlite"))
		if catErr != nil {
			// The catalog is a derived index; failing to open it leaves the
			// engine without a catalog rather than failing Open.
			cat = nil
		}

		eng.catalog = cat
	}

	return eng, nil
}

// RebuildCatalog drops and repopulates the on-disk catalog (C14) by
// walking RootPath/history from scratch. No-op if the catalog is
// disabled or failed to open.
func (e *Engine) RebuildCatalog(ctx context.Context) (int, error) {
	if e.catalog == nil {
		return 0, nil
	}

	return imxcatalog.Rebuild(ctx, e.catalog, e.cfg.RootPath)
}

// recover implements C8's startup contract: open the journal, replay it
// idempotently, validate every referenced disk file, quarantine failures,
// then rotate the journal.
func (e *Engine) recover() error {
	e.machine.state = StateRecovering

	recs, err := e.journal.readAll()
	if err != nil {
		return err
	}

	var maxDiskIdx uint32

	for _, r := range recs {
		if r.TargetDisk+1 > maxDiskIdx {
			maxDiskIdx = r.TargetDisk + 1
		}

		switch r.Op {
		case journalOpDelete:
			err = e.disk.delete(r.TargetDisk, r.SensorID)
			if err != nil {
				return err
			}
		case journalOpCreate:
			_, _, err = e.disk.read(r.TargetDisk, r.SensorID)
			if err != nil {
				// A create record whose file is missing or corrupt means the
				// address is orphaned: nothing in RAM can reference it (the
				// in-memory chain rewrite that would have pointed at it was
				// lost with the crash), so there is nothing further to do.
				continue
			}
		case journalOpUpdateLink:
			// Disk files are immutable; update_link records describe a
			// trailer rewrite that is only ever realized by re-creating the
			// file during the next migration pass, so replay is a no-op.
		}
	}

	e.machine.nextDiskIndex = maxDiskIdx

	err = e.journal.open()
	if err != nil {
		return err
	}

	err = e.journal.rotate()
	if err != nil {
		return err
	}

	e.machine.state = StateIdle

	return nil
}

// Close releases the engine's open file handles. It does not flush RAM to
// disk; call FlushAllToDisk first if that's desired.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}

	e.closed = true

	if e.metricsStop != nil {
		_ = e.metricsStop()
	}

	if e.catalog != nil {
		_ = e.catalog.Close()
	}

	return e.journal.close()
}

// RegisterStream declares a sensor/control stream. sampleRate of 0 means
// event-driven (spec §3).
func (e *Engine) RegisterStream(id uint16, rt RecordType, sampleRate uint32) error {
	if e.closed {
		return ErrClosed
	}

	e.streams.getOrCreate(id, rt, sampleRate)

	return nil
}

// Append writes one sample to the named stream (spec §4.4).
func (e *Engine) Append(streamID uint16, words ...uint32) error {
	if e.closed {
		return ErrClosed
	}

	s, ok := e.streams.get(streamID)
	if !ok {
		return ErrStreamNotFound
	}

	if !s.Enabled {
		return ErrStreamInvalid
	}

	return e.streams.append(s, words, e.machine.requestPressureRelief, e.machine.diskFallback)
}

// ReadNext consumes the oldest unread entry from streamID into out,
// returning false if the stream has no pending entries.
func (e *Engine) ReadNext(streamID uint16, out []uint32) (bool, error) {
	if e.closed {
		return false, ErrClosed
	}

	s, ok := e.streams.get(streamID)
	if !ok {
		return false, ErrStreamNotFound
	}

	if !s.Enabled {
		return false, ErrStreamInvalid
	}

	got, err := e.streams.readNext(s, out)
	if errors.Is(err, ErrDataCorrupt) {
		s.Enabled = false
	}

	return got, err
}

// Tick advances the state machine by one bounded step (spec §4.9).
func (e *Engine) Tick(now time.Time) error {
	if e.closed {
		return ErrClosed
	}

	return e.machine.tick(now)
}

// FlushAllToDisk requests that every RAM-resident stream migrate to disk.
// Idempotent.
func (e *Engine) FlushAllToDisk() {
	e.shutdown.flushAllToDisk()
}

// GetFlushProgress returns 0..100 while a flush is in progress, or 101
// once it has fully completed.
func (e *Engine) GetFlushProgress() int {
	progress := e.shutdown.getFlushProgress()
	imxmetrics.SetFlushProgress(progress)

	return progress
}

// CancelMemoryFlush requests cancellation of an in-progress flush.
func (e *Engine) CancelMemoryFlush() {
	e.shutdown.cancelMemoryFlush()
}

// IsAllRAMEmpty reports whether no stream currently has a RAM-resident
// sector with data.
func (e *Engine) IsAllRAMEmpty() bool {
	return e.shutdown.isAllRAMEmpty()
}

// GetMemoryStatistics returns a snapshot of allocator and journal
// counters (spec §3 "Memory statistics snapshot").
func (e *Engine) GetMemoryStatistics() Snapshot {
	snap := e.stats.snapshot(e.machine.pendingDiskWrites, e.machine.journalRecordsWritten)

	imxmetrics.Observe(snap.UsedSectors, snap.FreeSectors, snap.UsagePercentage,
		snap.PeakUsagePercentage, snap.FragmentationLevel, snap.PendingDiskWrites)

	return snap
}
