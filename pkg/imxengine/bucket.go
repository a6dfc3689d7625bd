package imxengine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/imxengine/imxengine/pkg/fs"
)

// bucketDirectory implements C7: mapping a disk sector index to
// <root>/history/<bucket>/sector_<N>_sensor_<S>.imx, and tolerant
// enumeration of bucket contents.
type bucketDirectory struct {
	root       string
	bucketSize int
}

func newBucketDirectory(root string, bucketSize int) *bucketDirectory {
	return &bucketDirectory{root: root, bucketSize: bucketSize}
}

func (b *bucketDirectory) historyRoot() string {
	return filepath.Join(b.root, "history")
}

func (b *bucketDirectory) corruptedDir() string {
	return filepath.Join(b.historyRoot(), "corrupted")
}

func (b *bucketDirectory) journalPath() string {
	return filepath.Join(b.historyRoot(), "recovery.journal")
}

func (b *bucketDirectory) journalBakPath() string {
	return filepath.Join(b.historyRoot(), "recovery.journal.bak")
}

func (b *bucketDirectory) bucketOf(diskIdx uint32) int {
	if b.bucketSize <= 0 {
		return 0
	}

	return int(diskIdx) / b.bucketSize
}

func (b *bucketDirectory) bucketDirOf(diskIdx uint32) string {
	return filepath.Join(b.historyRoot(), strconv.Itoa(b.bucketOf(diskIdx)))
}

func fileName(diskIdx uint32, sensorID uint16) string {
	return fmt.Sprintf("sector_%d_sensor_%d.imx", diskIdx, sensorID)
}

// pathOf derives the canonical file path for a disk sector index and
// sensor id.
func (b *bucketDirectory) pathOf(diskIdx uint32, sensorID uint16) (string, error) {
	return filepath.Join(b.bucketDirOf(diskIdx), fileName(diskIdx, sensorID)), nil
}

func (b *bucketDirectory) fsyncBucketDir(fsys fs.FS, diskIdx uint32) error {
	dir := b.bucketDirOf(diskIdx)

	f, err := fsys.Open(dir)
	if err != nil {
		return fmt.Errorf("open bucket dir %q: %w: %w", dir, ErrIOError, err)
	}

	defer func() { _ = f.Close() }()

	err = f.Sync()
	if err != nil {
		return fmt.Errorf("sync bucket dir %q: %w: %w", dir, ErrIOError, err)
	}

	return nil
}

// quarantine moves a corrupted disk file to the corrupted/ directory,
// renaming it to avoid collisions if the same sector/sensor pair is
// quarantined more than once across restarts.
func (b *bucketDirectory) quarantine(fsys fs.FS, path string, diskIdx uint32, sensorID uint16) error {
	err := fsys.MkdirAll(b.corruptedDir(), 0o755)
	if err != nil {
		return fmt.Errorf("mkdir corrupted dir: %w: %w", ErrIOError, err)
	}

	dest := filepath.Join(b.corruptedDir(), fileName(diskIdx, sensorID))

	for i := 0; ; i++ {
		candidate := dest
		if i > 0 {
			candidate = fmt.Sprintf("%s.%d", dest, i)
		}

		exists, err := fsys.Exists(candidate)
		if err != nil {
			return fmt.Errorf("stat quarantine target: %w: %w", ErrIOError, err)
		}

		if !exists {
			dest = candidate

			break
		}
	}

	err = fsys.Rename(path, dest)
	if err != nil {
		return fmt.Errorf("quarantine %q: %w: %w", path, ErrIOError, err)
	}

	return nil
}

// bucketEntry describes one file found while enumerating a bucket
// directory.
type bucketEntry struct {
	DiskIndex uint32
	SensorID  uint16
	Name      string
}

// parseEntryName parses "sector_<N>_sensor_<S>.imx", tolerating any other
// entry (sub-directories, dotfiles, unrelated files) by returning ok=false
// rather than an error (spec §4.7: "MUST tolerate non-bucket entries").
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

	return bucketEntry{DiskIndex: uint32(diskIdx), SensorID: uint16(sensorID), Name: name}, true
}

// enumerateBucket lists the valid disk-file entries in a bucket directory,
// skipping corrupted/, unrelated files, and any entry that doesn't parse
// as a bucket file name. Missing bucket directories yield an empty result,
// not an error.
func (b *bucketDirectory) enumerateBucket(fsys fs.FS, bucket int) ([]bucketEntry, error) {
	dir := filepath.Join(b.historyRoot(), strconv.Itoa(bucket))

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read bucket dir %q: %w: %w", dir, ErrIOError, err)
	}

	out := make([]bucketEntry, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		be, ok := parseEntryName(e.Name())
		if !ok {
			continue
		}

		out = append(out, be)
	}

	return out, nil
}
