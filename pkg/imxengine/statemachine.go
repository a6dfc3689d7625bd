package imxengine

import (
	"time"
)

// machine implements C9: the single cooperative driver. tick performs at
// most one unit of bounded work (one disk file created, deleted, or
// verified) per call; suspension points are exactly at tick boundaries.
type machine struct {
	pool    *ramPool
	alloc   *allocator
	chains  *chainManager
	addr    *addressSpace
	disk    *diskFileLayer
	journal *journal
	streams *streamManager

	sectorSize        int
	ramSectorsPerDisk int
	highWaterPercent  int
	cancelTimeoutMS   int

	nextDiskIndex uint32

	state             State
	pendingDiskWrites int

	flushInitialPending int
	flushMigrated       int
	flushProgress       int

	cancelRequested bool
	cancelAt        time.Time

	journalRecordsWritten uint64
}

func newMachine(pool *ramPool, alloc *allocator, chains *chainManager, addr *addressSpace, disk *diskFileLayer, j *journal, streams *streamManager, sectorSize, ramSectorsPerDisk, highWaterPercent, cancelTimeoutMS int) *machine {
	return &machine{
		pool:              pool,
		alloc:             alloc,
		chains:            chains,
		addr:              addr,
		disk:              disk,
		journal:           j,
		streams:           streams,
		sectorSize:        sectorSize,
		ramSectorsPerDisk: ramSectorsPerDisk,
		highWaterPercent:  highWaterPercent,
		cancelTimeoutMS:   cancelTimeoutMS,
		state:             StateIdle,
	}
}

// allocDiskIndex mints the next monotonic disk sector index.
func (m *machine) allocDiskIndex() uint32 {
	idx := m.nextDiskIndex
	m.nextDiskIndex++

	return idx
}

// diskFallback satisfies stream.go's diskFallback hook: the emergency
// path taken when RAM allocation fails and the pressure-relief retry does
// not yield a sector (spec §4.4 step 1).
func (m *machine) diskFallback(sensorID uint16, rt RecordType, entryWords []uint32) (ExtSector, error) {
	img := make([]byte, m.sectorSize)
	fillTrailer(img, m.sectorSize, EndOfChain)
	fillEntry(img, entryWords)

	diskIdx := m.allocDiskIndex()

	err := m.disk.create(diskIdx, sensorID, rt, m.sectorSize, [][]byte{img})
	if err != nil {
		return InvalidExtSector, err
	}

	err = m.journal.append(journalOpCreate, diskIdx, sensorID, 0)
	if err != nil {
		return InvalidExtSector, err
	}

	m.journalRecordsWritten++

	return m.addr.extFromDisk(diskIdx), nil
}

func fillTrailer(img []byte, sectorSize int, next Sector) {
	off := sectorSize - trailerSize
	img[off] = byte(next)
	img[off+1] = byte(next >> 8)
	img[off+2] = byte(next >> 16)
	img[off+3] = byte(next >> 24)
}

func fillEntry(img []byte, words []uint32) {
	for i, w := range words {
		off := i * 4
		img[off] = byte(w)
		img[off+1] = byte(w >> 8)
		img[off+2] = byte(w >> 16)
		img[off+3] = byte(w >> 24)
	}
}

// requestPressureRelief implements the single-retry emergency migration
// hook append() calls when an alloc() fails: it migrates one eligible
// stream immediately, out of band from the regular tick cadence.
func (m *machine) requestPressureRelief() bool {
	s := m.pickMigrationCandidate()
	if s == nil {
		return false
	}

	err := m.migrateOne(s, false)

	return err == nil
}

// tick advances the state machine by one bounded step.
func (m *machine) tick(now time.Time) error {
	switch m.state {
	case StateIdle:
		m.state = StateCheckPressure

	case StateCheckPressure:
		if m.alloc.usagePercent() >= m.highWaterPercent {
			m.state = StateMigrateToDisk
		} else {
			m.state = StateIdle
		}

	case StateMigrateToDisk:
		s := m.pickMigrationCandidate()
		if s == nil {
			m.state = StateCheckPressure

			return nil
		}

		m.pendingDiskWrites++
		m.state = StateWritePending

		err := m.migrateOne(s, false)

		m.pendingDiskWrites--

		if err != nil {
			m.alloc.allocFailures++
			m.state = StateCheckPressure

			return err
		}

		m.state = StateCheckPressure

	case StateWritePending:
		m.state = StateCheckPressure

	case StateFlushAll:
		return m.tickFlushAll()

	case StateCancellingFlush:
		m.state = StateIdle
		m.cancelRequested = false

	case StateRecovering:
		m.state = StateIdle
	}

	return nil
}

func (m *machine) tickFlushAll() error {
	if m.cancelRequested {
		m.state = StateCancellingFlush

		return nil
	}

	s := m.pickFlushCandidate()
	if s == nil {
		if !m.isAllRAMEmpty() {
			// pickFlushCandidate selects any RAM-resident head, including a
			// stream's sole head==tail sector, so this combination should
			// not arise; stay in FLUSH_ALL rather than report 101 for data
			// that is still RAM-resident.
			return nil
		}

		m.flushProgress = flushDone
		m.state = StateIdle

		return nil
	}

	err := m.migrateOne(s, true)
	if err != nil {
		m.alloc.allocFailures++

		return err
	}

	m.flushMigrated++

	if m.flushInitialPending > 0 {
		pct := 100 * m.flushMigrated / m.flushInitialPending
		if pct > 100 {
			pct = 100
		}

		m.flushProgress = pct
	}

	return nil
}

// pickMigrationCandidate selects the oldest (lowest AllocSeq) stream whose
// head is RAM-resident and not also its actively-appended tail: migrating a
// head==tail sector mid-append would strand the writer, so regular
// migration (C9's MIGRATE_TO_DISK state and the emergency pressure-relief
// hook) leaves it in RAM until either more entries grow a new tail or a
// flush forces it across.
func (m *machine) pickMigrationCandidate() *stream {
	return m.pickCandidate(false)
}

// pickFlushCandidate is pickMigrationCandidate's flush_all counterpart: it
// also selects a stream whose only RAM sector is its actively-appended
// tail. This is safe only because append's growTail (stream.go) already
// allocates a fresh sector whenever Tail is InvalidSector, so migrating the
// tail away strands no future write — it is exactly what makes genuine
// completion (is_all_ram_empty) reachable (spec §4.9/§4.11).
func (m *machine) pickFlushCandidate() *stream {
	return m.pickCandidate(true)
}

func (m *machine) pickCandidate(includeTailOnly bool) *stream {
	var best *stream

	for _, s := range m.streams.streams {
		if s.Head == ExtSector(InvalidSector) {
			continue
		}

		if m.addr.isDisk(s.Head) {
			continue
		}

		if s.Head == s.Tail && !includeTailOnly {
			continue
		}

		if best == nil || s.AllocSeq < best.AllocSeq || (s.AllocSeq == best.AllocSeq && s.ID < best.ID) {
			best = s
		}
	}

	return best
}

// migrateOne packs up to ramSectorsPerDisk RAM sectors from s.Head into one
// disk file, rewires s.Head to the new disk address, and frees the
// migrated RAM sectors (spec §4.9).
//
// includeTail is set only by flush_all: it allows the actively-appended
// tail sector itself to be packed when it is reached within the same
// budget. When that happens s.Tail is reset to InvalidSector so the next
// append allocates a fresh sector (stream.go's growTail) instead of
// writing into a sector that is now disk-resident.
func (m *machine) migrateOne(s *stream, includeTail bool) error {
	var (
		images       [][]byte
		sectors      []Sector
		consumedTail bool
	)

	cur := s.Head

	for len(images) < m.ramSectorsPerDisk {
		if m.addr.isDisk(cur) {
			break
		}

		atTail := cur == s.Tail
		if atTail && !includeTail {
			break
		}

		img, err := m.pool.rawSectorBytes(Sector(cur))
		if err != nil {
			return err
		}

		images = append(images, img)
		sectors = append(sectors, Sector(cur))

		if atTail {
			consumedTail = true

			break
		}

		nxt, err := m.chains.next(Sector(cur))
		if err != nil {
			return err
		}

		cur = ExtSector(nxt)
	}

	if len(images) == 0 {
		return nil
	}

	diskIdx := m.allocDiskIndex()

	err := m.disk.create(diskIdx, s.ID, s.RecordType, m.sectorSize, images)
	if err != nil {
		return err
	}

	err = m.journal.append(journalOpCreate, diskIdx, s.ID, 0)
	if err != nil {
		return err
	}

	m.journalRecordsWritten++

	s.Head = m.addr.extFromDisk(diskIdx)

	if consumedTail {
		s.Tail = ExtSector(InvalidSector)
		s.TailFill = 0
	}

	for _, sec := range sectors {
		err = m.alloc.free(sec)
		if err != nil {
			return err
		}
	}

	return nil
}

// --- Shutdown Controller (C11) ---

// flushAllToDisk is idempotent: a flush already in progress is left alone.
func (m *machine) flushAllToDisk() {
	if m.state == StateFlushAll {
		return
	}

	m.flushInitialPending = m.countMigratableSectors()
	m.flushMigrated = 0
	m.flushProgress = 0
	m.state = StateFlushAll
}

func (m *machine) countMigratableSectors() int {
	n := 0

	for _, s := range m.streams.streams {
		if s.Head == ExtSector(InvalidSector) || m.addr.isDisk(s.Head) {
			continue
		}

		n++
	}

	if n == 0 {
		n = 1
	}

	return n
}

func (m *machine) getFlushProgress() int {
	return m.flushProgress
}

// isAllRAMEmpty is true iff no stream has a RAM-resident sector with
// count > 0 (spec §9: follow the spec's definition, not the source's
// pre-allocated-sector bug).
func (m *machine) isAllRAMEmpty() bool {
	for _, s := range m.streams.streams {
		if m.streams.hasRAMData(s) {
			return false
		}
	}

	return true
}

// cancelMemoryFlush returns immediately; its effect is observed via
// get_flush_progress stabilizing below 101 and a subsequent IDLE reached
// within cancelTimeoutMS. Since every state-machine step in this
// cooperative model runs to completion synchronously within one tick,
// there is no truly in-flight I/O to interrupt: the next tick starts no
// further migration and moves to CANCELLING_FLUSH, and the tick after that
// returns to IDLE.
func (m *machine) cancelMemoryFlush() {
	if m.state != StateFlushAll {
		return
	}

	m.cancelRequested = true
	m.cancelAt = time.Now()
}
