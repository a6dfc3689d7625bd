package imxengine

// stream is the per-sensor/control append-only record sequence (spec §3
// "Stream descriptor"). Writes go strictly to tail; reads consume strictly
// from head; across streams, migration order favors the oldest AllocSeq.
type stream struct {
	ID         uint16
	RecordType RecordType
	SampleRate uint32
	Enabled    bool

	Head ExtSector
	Tail ExtSector

	// HeadSlot/HeadOffset locate the next entry to read: HeadSlot indexes
	// a disk file's batched slots (always 0 for a RAM head), HeadOffset is
	// the entry index within that slot's sector.
	HeadSlot   int
	HeadOffset int

	// TailFill is the number of entries already written into Tail's
	// current sector.
	TailFill int

	Count   uint64
	Pending uint64

	LastValue    [2]uint32
	LastValidity bool

	AllocSeq uint64 // sequence number stamped on Head when it was allocated
}

func newStream(id uint16, rt RecordType, sampleRate uint32) *stream {
	return &stream{
		ID:         id,
		RecordType: rt,
		SampleRate: sampleRate,
		Enabled:    true,
		Head:       ExtSector(InvalidSector),
		Tail:       ExtSector(InvalidSector),
	}
}

// streamManager implements C4: append/read_next over the stream table,
// delegating sector-level work to the allocator, chain manager, and
// address space.
type streamManager struct {
	pool   *ramPool
	alloc  *allocator
	chains *chainManager
	addr   *addressSpace
	disk   *diskFileLayer

	sectorSize int

	allocSeq uint64
	streams  map[uint16]*stream
}

func newStreamManager(pool *ramPool, alloc *allocator, chains *chainManager, addr *addressSpace, disk *diskFileLayer, sectorSize int) *streamManager {
	return &streamManager{
		pool:       pool,
		alloc:      alloc,
		chains:     chains,
		addr:       addr,
		disk:       disk,
		sectorSize: sectorSize,
		streams:    make(map[uint16]*stream),
	}
}

func (m *streamManager) get(id uint16) (*stream, bool) {
	s, ok := m.streams[id]
	return s, ok
}

func (m *streamManager) getOrCreate(id uint16, rt RecordType, sampleRate uint32) *stream {
	s, ok := m.streams[id]
	if ok {
		return s
	}

	s = newStream(id, rt, sampleRate)
	m.streams[id] = s

	return s
}

// pressureRelief is called by append when allocation fails once; it is
// supplied by the engine and attempts a single emergency migration so a
// retry can succeed without falling all the way through to the disk-path
// write.
type pressureRelief func() bool

// diskFallback is supplied by the engine: it mints the next monotonic
// disk index and writes a single-slot disk file for sensorID/rt with
// entryWords already embedded in its one slot (disk files are immutable
// once created, so the fallback entry must be baked in up front rather
// than written after the fact).
type diskFallback func(sensorID uint16, rt RecordType, entryWords []uint32) (ExtSector, error)

// append implements spec §4.4. words holds the entry's payload: one word
// for TSD, two (timestamp, value) for EVT.
func (m *streamManager) append(s *stream, words []uint32, relief pressureRelief, fallback diskFallback) error {
	if len(words) != s.RecordType.wordsPerEntry() {
		return ErrStreamInvalid
	}

	entriesPerSec := entriesPerSector(m.sectorSize, s.RecordType)

	if s.Tail == ExtSector(InvalidSector) || s.TailFill >= entriesPerSec {
		wroteViaFallback, err := m.growTail(s, entriesPerSec, words, relief, fallback)
		if err != nil {
			return err
		}

		if wroteViaFallback {
			m.recordAppend(s, words)

			return nil
		}
	}

	wordOffset := s.TailFill * s.RecordType.wordsPerEntry()

	err := m.addr.writeWords(s.Tail, wordOffset, len(words), words)
	if err != nil {
		return err
	}

	s.TailFill++
	m.recordAppend(s, words)

	return nil
}

func (m *streamManager) recordAppend(s *stream, words []uint32) {
	s.Count++
	s.Pending++

	switch s.RecordType {
	case RecordEVT:
		s.LastValue[0] = words[0]
		s.LastValue[1] = words[1]
	default:
		s.LastValue[0] = words[0]
	}

	s.LastValidity = true
}

// growTail allocates (or relinks) a new tail sector when the current one
// is full or doesn't exist yet. It returns true if the disk-path fallback
// was taken, in which case the entry has already been written (baked into
// the new disk file) and the caller must not write it again.
func (m *streamManager) growTail(s *stream, entriesPerSec int, words []uint32, relief pressureRelief, fallback diskFallback) (bool, error) {
	next := m.alloc.alloc()

	if next == InvalidSector {
		if relief != nil && relief() {
			next = m.alloc.alloc()
		}
	}

	if next == InvalidSector {
		if fallback == nil {
			return false, ErrNoFreeSectors
		}

		ext, err := fallback(s.ID, s.RecordType, words)
		if err != nil {
			return false, err
		}

		if s.Head == ExtSector(InvalidSector) {
			s.Head = ext
		} else {
			err = m.addr.setNext(s.Tail, ext)
			if err != nil {
				return false, err
			}
		}

		s.Tail = ext
		s.TailFill = 1

		return true, nil
	}

	m.allocSeq++

	err := m.pool.zeroSector(next)
	if err != nil {
		return false, err
	}

	err = m.chains.setNext(next, EndOfChain)
	if err != nil {
		return false, err
	}

	ext := m.addr.extFromRAM(next)

	if s.Head == ExtSector(InvalidSector) {
		s.Head = ext
		s.AllocSeq = m.allocSeq
	} else {
		err = m.addr.setNext(s.Tail, ext)
		if err != nil {
			return false, err
		}
	}

	s.Tail = ext
	s.TailFill = 0

	return false, nil
}

// readNext implements the §4.4 reader: consumes the oldest unread entry
// from head forward, advancing the read cursor and freeing a RAM head
// sector once fully drained.
func (m *streamManager) readNext(s *stream, out []uint32) (bool, error) {
	if s.Count == 0 || s.Head == ExtSector(InvalidSector) {
		return false, nil
	}

	if len(out) < s.RecordType.wordsPerEntry() {
		return false, ErrBufferTooSmall
	}

	slotCount, err := m.addr.slotCount(s.Head, s.ID)
	if err != nil {
		return false, err
	}

	entriesPerSec := entriesPerSector(m.sectorSize, s.RecordType)

	wordOffset := s.HeadOffset * s.RecordType.wordsPerEntry()

	err = m.addr.readSlotWords(s.Head, s.ID, s.HeadSlot, wordOffset, s.RecordType.wordsPerEntry(), out)
	if err != nil {
		return false, err
	}

	s.HeadOffset++
	s.Count--

	if s.HeadOffset >= entriesPerSec {
		s.HeadOffset = 0
		s.HeadSlot++
	}

	if s.HeadSlot >= slotCount || s.Count == 0 {
		return true, m.advanceHead(s)
	}

	return true, nil
}

// advanceHead is called once every slot of the current head has been
// consumed: it follows the chain to the next address, freeing the
// exhausted RAM sector (disk files are reclaimed by the state machine via
// C6.delete, not here).
func (m *streamManager) advanceHead(s *stream) error {
	wasRAM := !m.addr.isDisk(s.Head)
	old := s.Head

	nxt, err := m.addr.next(s.Head, s.ID)
	if err != nil {
		return err
	}

	if wasRAM {
		err = m.alloc.free(Sector(old))
		if err != nil {
			return err
		}
	}

	s.HeadSlot = 0
	s.HeadOffset = 0

	if nxt == ExtSector(EndOfChain) {
		s.Head = ExtSector(InvalidSector)
		s.Tail = ExtSector(InvalidSector)
		s.TailFill = 0

		return nil
	}

	s.Head = nxt

	return nil
}

// hasRAMData reports whether s currently holds any entry resident in RAM,
// used by is_all_ram_empty (C11).
func (m *streamManager) hasRAMData(s *stream) bool {
	if s.Count == 0 {
		return false
	}

	return !m.addr.isDisk(s.Head)
}
