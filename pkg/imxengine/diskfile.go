package imxengine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"syscall"
	"time"

	"github.com/imxengine/imxengine/internal/imxmetrics"
	"github.com/imxengine/imxengine/pkg/fs"
)

// Disk file header layout (spec §6), little-endian, 72 bytes total.
const (
	imxOffMagic            = 0
	imxOffVersion           = 4
	imxOffSensorID          = 8
	imxOffSectorCount       = 10
	imxOffSectorSize        = 12
	imxOffRecordType        = 14
	imxOffEntriesPerSector  = 16
	imxOffCreatedTime       = 18
	imxOffChecksum          = 26
	imxOffReserved          = 30
	imxReservedLen          = 16
)

var imxMagic = [4]byte{'I', 'M', 'X', '2'}

const (
	diskVersionV1 = 1
	diskVersionV2 = 2
)

// diskHeader is the decoded form of a disk file's fixed 72-byte header.
type diskHeader struct {
	Version          uint32
	SensorID         uint16
	SectorCount      uint16
	SectorSize       uint16
	RecordType       uint16
	EntriesPerSector uint16
	CreatedTime      int64
	Checksum         uint32
}

// encodeDiskHeader serializes h to a diskFileHeaderSize-byte buffer. The
// checksum field is written as-is (callers compute it over the payload
// before calling this).
func encodeDiskHeader(h diskHeader) []byte {
	buf := make([]byte, diskFileHeaderSize)

	copy(buf[imxOffMagic:], imxMagic[:])
	binary.LittleEndian.PutUint32(buf[imxOffVersion:], h.Version)
	binary.LittleEndian.PutUint16(buf[imxOffSensorID:], h.SensorID)
	binary.LittleEndian.PutUint16(buf[imxOffSectorCount:], h.SectorCount)
	binary.LittleEndian.PutUint16(buf[imxOffSectorSize:], h.SectorSize)
	binary.LittleEndian.PutUint16(buf[imxOffRecordType:], h.RecordType)
	binary.LittleEndian.PutUint16(buf[imxOffEntriesPerSector:], h.EntriesPerSector)
	binary.LittleEndian.PutUint64(buf[imxOffCreatedTime:], uint64(h.CreatedTime))
	binary.LittleEndian.PutUint32(buf[imxOffChecksum:], h.Checksum)
	// Reserved bytes and padding out to diskFileHeaderSize stay zero.

	return buf
}

// decodeDiskHeader parses a diskFileHeaderSize-byte buffer into a header,
// without validating it. Callers validate separately.
func decodeDiskHeader(buf []byte) (diskHeader, error) {
	if len(buf) < diskFileHeaderSize {
		return diskHeader{}, fmt.Errorf("header short read (%d bytes): %w", len(buf), ErrDataCorrupt)
	}

	var h diskHeader

	h.Version = binary.LittleEndian.Uint32(buf[imxOffVersion:])
	h.SensorID = binary.LittleEndian.Uint16(buf[imxOffSensorID:])
	h.SectorCount = binary.LittleEndian.Uint16(buf[imxOffSectorCount:])
	h.SectorSize = binary.LittleEndian.Uint16(buf[imxOffSectorSize:])
	h.RecordType = binary.LittleEndian.Uint16(buf[imxOffRecordType:])
	h.EntriesPerSector = binary.LittleEndian.Uint16(buf[imxOffEntriesPerSector:])
	h.CreatedTime = int64(binary.LittleEndian.Uint64(buf[imxOffCreatedTime:]))
	h.Checksum = binary.LittleEndian.Uint32(buf[imxOffChecksum:])

	return h, nil
}

func validateMagic(buf []byte) bool {
	return len(buf) >= 4 && buf[0] == imxMagic[0] && buf[1] == imxMagic[1] && buf[2] == imxMagic[2] && buf[3] == imxMagic[3]
}

// checksumPayload computes the CRC-32 (IEEE polynomial 0xEDB88320) over
// payload bytes. The same algorithm MUST be used on verify (spec §4.6).
func checksumPayload(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// diskFileLayer implements C6: encode/decode disk files, atomic create via
// temp+rename, checksum verification, and quarantine of corrupt files.
type diskFileLayer struct {
	fsys   fs.FS
	atomic *fs.AtomicWriter
	dirs   *bucketDirectory
	now    func() time.Time
}

func newDiskFileLayer(fsys fs.FS, dirs *bucketDirectory, now func() time.Time) *diskFileLayer {
	return &diskFileLayer{
		fsys:   fsys,
		atomic: fs.NewAtomicWriter(fsys),
		dirs:   dirs,
		now:    now,
	}
}

// create writes a v2 batched disk file for the given disk sector index,
// packing ramImages (one per RAM sector, sectorSize bytes each)
// concatenated as the payload.
func (d *diskFileLayer) create(diskIdx uint32, sensorID uint16, rt RecordType, sectorSize int, ramImages [][]byte) error {
	payload := make([]byte, 0, len(ramImages)*sectorSize)
	for _, img := range ramImages {
		payload = append(payload, img...)
	}

	h := diskHeader{
		Version:          diskVersionV2,
		SensorID:         sensorID,
		SectorCount:      uint16(len(ramImages)),
		SectorSize:       uint16(sectorSize),
		RecordType:       uint16(rt),
		EntriesPerSector: uint16(entriesPerSector(sectorSize, rt)),
		CreatedTime:      d.now().UnixMilli(),
		Checksum:         checksumPayload(payload),
	}

	buf := append(encodeDiskHeader(h), payload...)

	path, err := d.dirs.pathOf(diskIdx, sensorID)
	if err != nil {
		return err
	}

	err = d.fsys.MkdirAll(d.dirs.bucketDirOf(diskIdx), 0o755)
	if err != nil {
		return fmt.Errorf("mkdir bucket dir: %w: %w", ErrIOError, err)
	}

	err = d.atomic.Write(path, bytes.NewReader(buf), fs.AtomicWriteOptions{SyncDir: true, Perm: 0o644})
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return fmt.Errorf("create disk file: %w: %w", ErrDiskFull, err)
		}

		return fmt.Errorf("create disk file: %w: %w", ErrIOError, err)
	}

	imxmetrics.RecordDiskFileCreated()

	return nil
}

// read opens the disk file for diskIdx/sensorID, validates it, and returns
// the decoded header and raw payload. A file that fails validation is
// quarantined under corrupted/ and [ErrDataCorrupt] is returned.
func (d *diskFileLayer) read(diskIdx uint32, sensorID uint16) (diskHeader, []byte, error) {
	path, err := d.dirs.pathOf(diskIdx, sensorID)
	if err != nil {
		return diskHeader{}, nil, err
	}

	raw, err := d.fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return diskHeader{}, nil, fmt.Errorf("read disk file: %w: %w", ErrInvalidSector, err)
		}

		return diskHeader{}, nil, fmt.Errorf("read disk file: %w: %w", ErrIOError, err)
	}

	h, payload, verr := d.decodeAndVerify(raw, sensorID)
	if verr != nil {
		_ = d.dirs.quarantine(d.fsys, path, diskIdx, sensorID)
		imxmetrics.RecordDiskFileCorrupted()

		return diskHeader{}, nil, verr
	}

	return h, payload, nil
}

func (d *diskFileLayer) decodeAndVerify(raw []byte, expectSensorID uint16) (diskHeader, []byte, error) {
	if len(raw) < diskFileHeaderSize || !validateMagic(raw) {
		return diskHeader{}, nil, fmt.Errorf("bad magic or short file: %w", ErrDataCorrupt)
	}

	h, err := decodeDiskHeader(raw)
	if err != nil {
		return diskHeader{}, nil, err
	}

	if h.Version != diskVersionV1 && h.Version != diskVersionV2 {
		return diskHeader{}, nil, fmt.Errorf("unsupported version %d: %w", h.Version, ErrDataCorrupt)
	}

	if h.SensorID != expectSensorID {
		return diskHeader{}, nil, fmt.Errorf("sensor id mismatch (header %d, expected %d): %w", h.SensorID, expectSensorID, ErrDataCorrupt)
	}

	payload := raw[diskFileHeaderSize:]

	expectLen := int(h.SectorCount) * int(h.SectorSize)
	if len(payload) != expectLen {
		return diskHeader{}, nil, fmt.Errorf("payload length %d != expected %d: %w", len(payload), expectLen, ErrDataCorrupt)
	}

	if checksumPayload(payload) != h.Checksum {
		return diskHeader{}, nil, fmt.Errorf("checksum mismatch: %w", ErrDataCorrupt)
	}

	return h, payload, nil
}

// delete removes the disk file for diskIdx/sensorID. It is not an error if
// the file is already absent (idempotent, matching journal-replay semantics
// in §4.8).
func (d *diskFileLayer) delete(diskIdx uint32, sensorID uint16) error {
	path, err := d.dirs.pathOf(diskIdx, sensorID)
	if err != nil {
		return err
	}

	err = d.fsys.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete disk file: %w: %w", ErrIOError, err)
	}

	if err == nil {
		imxmetrics.RecordDiskFileDeleted()
	}

	return d.dirs.fsyncBucketDir(d.fsys, diskIdx)
}

// slotPayload extracts the RAM-sector-sized image for slot i (0-based)
// out of a disk file's payload.
func slotPayload(payload []byte, sectorSize, slot int) []byte {
	start := slot * sectorSize
	return payload[start : start+sectorSize]
}

