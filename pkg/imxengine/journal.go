package imxengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/imxengine/imxengine/internal/imxmetrics"
	"github.com/imxengine/imxengine/pkg/fs"
)

// Recovery journal record op-kinds (spec §6).
type journalOp uint8

const (
	journalOpCreate     journalOp = 1
	journalOpDelete     journalOp = 2
	journalOpUpdateLink journalOp = 3
)

// Journal record layout, little-endian, 24 bytes (23 meaningful + 1 pad):
//
//	0   1  op
//	1   4  target_sector
//	5   2  sensor_id
//	7   8  timestamp_ms
//	15  4  prior_link (op=update_link only; else 0)
//	19  1  padding
//	20  4  checksum (CRC-32 over bytes [0:20))
const (
	journalRecOffOp       = 0
	journalRecOffTarget   = 1
	journalRecOffSensor   = 5
	journalRecOffTime     = 7
	journalRecOffPrior    = 15
	journalRecOffChecksum = 20
)

// journalRecord is one decoded entry of the recovery journal.
type journalRecord struct {
	Op          journalOp
	TargetDisk  uint32
	SensorID    uint16
	TimestampMS int64
	PriorLink   uint32
}

func encodeJournalRecord(r journalRecord) []byte {
	buf := make([]byte, journalRecordSize)

	buf[journalRecOffOp] = byte(r.Op)
	binary.LittleEndian.PutUint32(buf[journalRecOffTarget:], r.TargetDisk)
	binary.LittleEndian.PutUint16(buf[journalRecOffSensor:], r.SensorID)
	binary.LittleEndian.PutUint64(buf[journalRecOffTime:], uint64(r.TimestampMS))
	binary.LittleEndian.PutUint32(buf[journalRecOffPrior:], r.PriorLink)
	binary.LittleEndian.PutUint32(buf[journalRecOffChecksum:], crc32.ChecksumIEEE(buf[:journalRecOffChecksum]))

	return buf
}

func decodeJournalRecord(buf []byte) (journalRecord, error) {
	if len(buf) != journalRecordSize {
		return journalRecord{}, fmt.Errorf("journal record short read (%d bytes): %w", len(buf), ErrDataCorrupt)
	}

	want := binary.LittleEndian.Uint32(buf[journalRecOffChecksum:])
	got := crc32.ChecksumIEEE(buf[:journalRecOffChecksum])

	if want != got {
		return journalRecord{}, fmt.Errorf("journal record checksum mismatch: %w", ErrDataCorrupt)
	}

	r := journalRecord{
		Op:          journalOp(buf[journalRecOffOp]),
		TargetDisk:  binary.LittleEndian.Uint32(buf[journalRecOffTarget:]),
		SensorID:    binary.LittleEndian.Uint16(buf[journalRecOffSensor:]),
		TimestampMS: int64(binary.LittleEndian.Uint64(buf[journalRecOffTime:])),
		PriorLink:   binary.LittleEndian.Uint32(buf[journalRecOffPrior:]),
	}

	switch r.Op {
	case journalOpCreate, journalOpDelete, journalOpUpdateLink:
	default:
		return journalRecord{}, fmt.Errorf("journal record unknown op %d: %w", r.Op, ErrDataCorrupt)
	}

	return r, nil
}

// journal implements C8: an append-only write-ahead log of disk mutations,
// replayed idempotently at startup. Unlike a single-commit WAL (one body
// plus footer), each record carries its own CRC so a torn tail (a partial
// record from a crash mid-append) is detected and discarded without
// invalidating records written before it.
type journal struct {
	fsys fs.FS
	dirs *bucketDirectory
	now  func() time.Time

	file fs.File
}

func newJournal(fsys fs.FS, dirs *bucketDirectory, now func() time.Time) *journal {
	return &journal{fsys: fsys, dirs: dirs, now: now}
}

// open opens (creating if absent) the active journal file for appending.
func (j *journal) open() error {
	err := j.fsys.MkdirAll(j.dirs.historyRoot(), 0o755)
	if err != nil {
		return fmt.Errorf("mkdir history root: %w: %w", ErrIOError, err)
	}

	f, err := j.fsys.OpenFile(j.dirs.journalPath(), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w: %w", ErrIOError, err)
	}

	j.file = f

	return nil
}

func (j *journal) close() error {
	if j.file == nil {
		return nil
	}

	err := j.file.Close()
	j.file = nil

	if err != nil {
		return fmt.Errorf("close journal: %w: %w", ErrIOError, err)
	}

	return nil
}

// append writes one record and fsyncs the journal before returning. The
// create records written by migration and the disk fallback are appended
// only after the disk file they name has been committed, so a failed
// create leaves no record behind.
func (j *journal) append(op journalOp, targetDisk uint32, sensorID uint16, priorLink uint32) error {
	rec := journalRecord{
		Op:          op,
		TargetDisk:  targetDisk,
		SensorID:    sensorID,
		TimestampMS: j.now().UnixMilli(),
		PriorLink:   priorLink,
	}

	buf := encodeJournalRecord(rec)

	_, err := j.file.Write(buf)
	if err != nil {
		return fmt.Errorf("append journal record: %w: %w", ErrIOError, err)
	}

	err = j.file.Sync()
	if err != nil {
		return fmt.Errorf("sync journal: %w: %w", ErrIOError, err)
	}

	imxmetrics.RecordJournalRecord()

	return nil
}

// readAll reads every well-formed record from the active journal. A
// torn/partial trailing record (shorter than journalRecordSize, or one
// that fails its own CRC immediately after a clean run of prior records)
// is silently dropped: it represents a write that never completed its
// fsync and so never took effect.
func (j *journal) readAll() ([]journalRecord, error) {
	raw, err := j.fsys.ReadFile(j.dirs.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read journal: %w: %w", ErrIOError, err)
	}

	recs := make([]journalRecord, 0, len(raw)/journalRecordSize)

	for off := 0; off+journalRecordSize <= len(raw); off += journalRecordSize {
		r, err := decodeJournalRecord(raw[off : off+journalRecordSize])
		if err != nil {
			break
		}

		recs = append(recs, r)
	}

	return recs, nil
}

// rotate moves the active journal to its .bak sibling and truncates it to
// empty, called after a successful recovery replay (spec §4.8 step 4).
func (j *journal) rotate() error {
	err := j.close()
	if err != nil {
		return err
	}

	exists, err := j.fsys.Exists(j.dirs.journalPath())
	if err != nil {
		return fmt.Errorf("stat journal: %w: %w", ErrIOError, err)
	}

	if exists {
		err = j.fsys.Rename(j.dirs.journalPath(), j.dirs.journalBakPath())
		if err != nil {
			return fmt.Errorf("rotate journal: %w: %w", ErrIOError, err)
		}
	}

	return j.open()
}

var errJournalReplayOrphaned = errors.New("imxengine: journal replay orphaned disk address")
