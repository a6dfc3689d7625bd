// Package imxcatalog implements C14: a derived, rebuildable SQLite index
// over a tree of .imx disk files, answering per-file and per-bucket
// lookups without a directory walk plus per-file header parse. It is never
// the source of truth — a missing, stale, or corrupt catalog is rebuilt
// from history/ itself. The engine's own bucket enumeration (C7) and
// recovery (C8) do not read it; they always walk history/ directly.
package imxcatalog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/calvinalkan/fileproc"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const schemaVersion = 1

// Disk file header layout, mirrored from pkg/imxengine/diskfile.go. The
// catalog only ever reads the fixed header, never the payload.
const (
	headerSize     = 72
	offVersion     = 4
	offSensorID    = 8
	offSectorCount = 10
	offRecordType  = 14
	offCreatedTime = 18
	offChecksum    = 26
)

var magic = [4]byte{'I', 'M', 'X', '2'}

// Row is one catalog entry, mirroring a disk file's identity and header
// without its payload.
type Row struct {
	DiskSectorIndex uint32
	SensorID        uint16
	Bucket          int
	Path            string
	RecordType      uint16
	SectorCount     uint16
	CreatedTime     int64
	Checksum        uint32
	State           string // "active", "orphaned", "corrupted"
}

const (
	StateActive    = "active"
	StateOrphaned  = "orphaned"
	StateCorrupted = "corrupted"
)

// ErrCorrupt indicates the catalog database itself failed to open or its
// schema doesn't match what this package expects. Callers should call
// Rebuild.
var ErrCorrupt = errors.New("imxcatalog: corrupt")

// Catalog wraps a SQLite database holding one row per known disk file.
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog database at dbPath, applying pragmas
// and checking the schema version. A version mismatch or an unreadable
// database returns [ErrCorrupt]; the caller should delete dbPath and call
// Rebuild.
func Open(dbPath string) (*Catalog, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("open catalog: path is empty: %w", ErrCorrupt)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w: %w", ErrCorrupt, err)
	}

	err = db.Ping()
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping catalog: %w: %w", ErrCorrupt, err)
	}

	err = applyPragmas(db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	version, err := userVersion(db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	if version == 0 {
		err = createSchema(db)
		if err != nil {
			_ = db.Close()

			return nil, err
		}
	} else if version != schemaVersion {
		_ = db.Close()

		return nil, fmt.Errorf("catalog schema version %d != %d: %w", version, schemaVersion, ErrCorrupt)
	}

	return &Catalog{db: db}, nil
}

// Close releases the catalog's database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func applyPragmas(db *sql.DB) error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -8000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		if err != nil {
			return fmt.Errorf("apply pragma %q: %w: %w", stmt, ErrCorrupt, err)
		}
	}

	return nil
}

func userVersion(db *sql.DB) (int, error) {
	row := db.QueryRow("PRAGMA user_version")

	var version int

	err := row.Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read user_version: %w: %w", ErrCorrupt, err)
	}

	return version, nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		"DROP TABLE IF EXISTS files",
		`CREATE TABLE files (
			disk_sector_index INTEGER NOT NULL,
			sensor_id INTEGER NOT NULL,
			bucket INTEGER NOT NULL,
			path TEXT NOT NULL,
			record_type INTEGER NOT NULL,
			sector_count INTEGER NOT NULL,
			created_time INTEGER NOT NULL,
			checksum INTEGER NOT NULL,
			state TEXT NOT NULL,
			PRIMARY KEY (disk_sector_index, sensor_id)
		) WITHOUT ROWID`,
		"CREATE INDEX idx_bucket ON files(bucket)",
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion),
	}

	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		if err != nil {
			return fmt.Errorf("apply schema statement %q: %w: %w", stmt, ErrCorrupt, err)
		}
	}

	return nil
}

// Upsert inserts or replaces row.
func (c *Catalog) Upsert(row Row) error {
	_, err := c.db.Exec(`
		INSERT INTO files (disk_sector_index, sensor_id, bucket, path, record_type, sector_count, created_time, checksum, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(disk_sector_index, sensor_id) DO UPDATE SET
			bucket=excluded.bucket, path=excluded.path, record_type=excluded.record_type,
			sector_count=excluded.sector_count, created_time=excluded.created_time,
			checksum=excluded.checksum, state=excluded.state`,
		row.DiskSectorIndex, row.SensorID, row.Bucket, row.Path, row.RecordType,
		row.SectorCount, row.CreatedTime, row.Checksum, row.State)
	if err != nil {
		return fmt.Errorf("upsert catalog row: %w", err)
	}

	return nil
}

// MarkOrphaned flags every row for diskSectorIndex as orphaned, without
// deleting it — the row still records that the address was once in use.
func (c *Catalog) MarkOrphaned(diskSectorIndex uint32) error {
	_, err := c.db.Exec(`UPDATE files SET state = ? WHERE disk_sector_index = ?`, StateOrphaned, diskSectorIndex)
	if err != nil {
		return fmt.Errorf("mark orphaned: %w", err)
	}

	return nil
}

// MarkCorrupted flags one (diskSectorIndex, sensorID) row as corrupted,
// matching a file that has been moved under corrupted/.
func (c *Catalog) MarkCorrupted(diskSectorIndex uint32, sensorID uint16) error {
	_, err := c.db.Exec(`UPDATE files SET state = ? WHERE disk_sector_index = ? AND sensor_id = ?`,
		StateCorrupted, diskSectorIndex, sensorID)
	if err != nil {
		return fmt.Errorf("mark corrupted: %w", err)
	}

	return nil
}

// Lookup returns the row for (diskSectorIndex, sensorID), if present.
func (c *Catalog) Lookup(diskSectorIndex uint32, sensorID uint16) (Row, bool, error) {
	row := c.db.QueryRow(`
		SELECT disk_sector_index, sensor_id, bucket, path, record_type, sector_count, created_time, checksum, state
		FROM files WHERE disk_sector_index = ? AND sensor_id = ?`, diskSectorIndex, sensorID)

	var r Row

	err := row.Scan(&r.DiskSectorIndex, &r.SensorID, &r.Bucket, &r.Path, &r.RecordType, &r.SectorCount, &r.CreatedTime, &r.Checksum, &r.State)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}

	if err != nil {
		return Row{}, false, fmt.Errorf("lookup catalog row: %w", err)
	}

	return r, true, nil
}

// EnumerateBucket returns every row recorded for a bucket, in no
// particular order.
func (c *Catalog) EnumerateBucket(bucket int) ([]Row, error) {
	rows, err := c.db.Query(`
		SELECT disk_sector_index, sensor_id, bucket, path, record_type, sector_count, created_time, checksum, state
		FROM files WHERE bucket = ?`, bucket)
	if err != nil {
		return nil, fmt.Errorf("enumerate bucket %d: %w", bucket, err)
	}

	defer func() { _ = rows.Close() }()

	var out []Row

	for rows.Next() {
		var r Row

		err = rows.Scan(&r.DiskSectorIndex, &r.SensorID, &r.Bucket, &r.Path, &r.RecordType, &r.SectorCount, &r.CreatedTime, &r.Checksum, &r.State)
		if err != nil {
			return nil, fmt.Errorf("scan bucket row: %w", err)
		}

		out = append(out, r)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("enumerate bucket %d: %w", bucket, err)
	}

	return out, nil
}

// Rebuild drops and repopulates the files table by walking root/history
// concurrently, one scan per bucket directory, parsing each file's header
// without reading its payload. corrupted/ and any non-bucket entry are
// skipped. Files whose header fails to parse are recorded with
// [StateCorrupted] rather than causing the rebuild to fail, since the
// catalog's entire purpose is to tolerate what's actually on disk.
func Rebuild(ctx context.Context, c *Catalog, root string) (int, error) {
	if ctx == nil {
		return 0, errors.New("rebuild catalog: context is nil")
	}

	historyRoot := filepath.Join(root, "history")

	opts := fileproc.Options{
		Recursive: true,
		Suffix:    ".imx",
		OnError: func(err error, _, _ int) bool {
			return !errors.Is(err, errSkipCorrupted) && !errors.Is(err, errSkipMalformed)
		},
	}

	results, errs := fileproc.ProcessStat(ctx, historyRoot, func(path []byte, _ fileproc.Stat, f fileproc.LazyFile) (*Row, error) {
		relPath := string(path)
		if strings.HasPrefix(relPath, "corrupted"+string(filepath.Separator)) || strings.HasPrefix(relPath, "corrupted/") {
			return nil, errSkipCorrupted
		}

		entry, ok := parseEntryName(filepath.Base(relPath))
		if !ok {
			return nil, errSkipMalformed
		}

		bucket, ok := parseBucketDir(relPath)
		if !ok {
			return nil, errSkipMalformed
		}

		row := Row{
			DiskSectorIndex: entry.diskIndex,
			SensorID:        entry.sensorID,
			Bucket:          bucket,
			Path:            filepath.Join(historyRoot, relPath),
			State:           StateActive,
		}

		header := make([]byte, headerSize)

		n, err := f.Read(header)
		if err != nil && n < headerSize {
			row.State = StateCorrupted

			return &row, nil
		}

		h, ok := decodeHeader(header)
		if !ok {
			row.State = StateCorrupted

			return &row, nil
		}

		row.RecordType = h.recordType
		row.SectorCount = h.sectorCount
		row.CreatedTime = h.createdTime
		row.Checksum = h.checksum

		return &row, nil
	}, opts)

	if len(errs) > 0 {
		var ioErr *fileproc.IOError
		for _, err := range errs {
			if errors.As(err, &ioErr) {
				return 0, fmt.Errorf("rebuild catalog: %w", errors.Join(errs...))
			}
		}
	}

	_, err := c.db.Exec("DELETE FROM files")
	if err != nil {
		return 0, fmt.Errorf("rebuild catalog: clear table: %w", err)
	}

	indexed := 0

	for i := range results {
		row := results[i].Value
		if row == nil {
			continue
		}

		err = c.Upsert(*row)
		if err != nil {
			return indexed, fmt.Errorf("rebuild catalog: %w", err)
		}

		indexed++
	}

	return indexed, nil
}

var errSkipCorrupted = errors.New("skip corrupted/ subtree")
var errSkipMalformed = errors.New("skip non-bucket entry")

type bucketEntry struct {
	diskIndex uint32
	sensorID  uint16
}

// parseEntryName parses "sector_<N>_sensor_<S>.imx", tolerating anything
// else by returning ok=false.
func parseEntryName(name string) (bucketEntry, bool) {
	const prefix = "sector_"
	const suffix = ".imx"

	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return bucketEntry{}, false
	}

	mid := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)

	parts := strings.SplitN(mid, "_sensor_", 2)
	if len(parts) != 2 {
		return bucketEntry{}, false
	}

	diskIdx, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return bucketEntry{}, false
	}

	sensorID, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return bucketEntry{}, false
	}

	return bucketEntry{diskIndex: uint32(diskIdx), sensorID: uint16(sensorID)}, true
}

// parseBucketDir extracts the numeric bucket directory name from a path
// relative to history/, e.g. "12/sector_34_sensor_1.imx" -> 12.
func parseBucketDir(relPath string) (int, bool) {
	dir := filepath.Dir(relPath)
	if dir == "." || strings.ContainsRune(dir, filepath.Separator) {
		return 0, false
	}

	bucket, err := strconv.Atoi(dir)
	if err != nil {
		return 0, false
	}

	return bucket, true
}

type parsedHeader struct {
	recordType  uint16
	sectorCount uint16
	createdTime int64
	checksum    uint32
}

func decodeHeader(buf []byte) (parsedHeader, bool) {
	if len(buf) < headerSize || !bytes.Equal(buf[0:4], magic[:]) {
		return parsedHeader{}, false
	}

	version := binary.LittleEndian.Uint32(buf[offVersion:])
	if version != 1 && version != 2 {
		return parsedHeader{}, false
	}

	return parsedHeader{
		sectorCount: binary.LittleEndian.Uint16(buf[offSectorCount:]),
		recordType:  binary.LittleEndian.Uint16(buf[offRecordType:]),
		createdTime: int64(binary.LittleEndian.Uint64(buf[offCreatedTime:])),
		checksum:    binary.LittleEndian.Uint32(buf[offChecksum:]),
	}, true
}
