package imxengine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imxengine/imxengine/pkg/fs"
)

func newDiskFileFixture(t *testing.T) (*diskFileLayer, *bucketDirectory, string) {
	t.Helper()

	root := t.TempDir()
	dirs := newBucketDirectory(root, 1000)
	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	d := newDiskFileLayer(fs.NewReal(), dirs, now)

	return d, dirs, root
}

// Contract: create then read round-trips the exact payload, and the header
// matches spec §6 (magic "IMX2", version 2, sensor id, checksum).
func Test_DiskFileLayer_CreateRead_RoundTrip(t *testing.T) {
	t.Parallel()

	d, _, _ := newDiskFileFixture(t)

	img1 := make([]byte, 32)
	img1[0] = 0xAA

	img2 := make([]byte, 32)
	img2[0] = 0xBB

	if err := d.create(7, 200, RecordTSD, 32, [][]byte{img1, img2}); err != nil {
		t.Fatalf("create: %v", err)
	}

	h, payload, err := d.read(7, 200)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if h.Version != diskVersionV2 {
		t.Fatalf("version = %d, want 2", h.Version)
	}

	if h.SensorID != 200 {
		t.Fatalf("sensorID = %d, want 200", h.SensorID)
	}

	if h.SectorCount != 2 {
		t.Fatalf("sectorCount = %d, want 2", h.SectorCount)
	}

	if len(payload) != 64 {
		t.Fatalf("payload len = %d, want 64", len(payload))
	}

	if payload[0] != 0xAA || payload[32] != 0xBB {
		t.Fatalf("payload content mismatch: %x", payload)
	}

	if checksumPayload(payload) != h.Checksum {
		t.Fatalf("checksum mismatch")
	}
}

// Contract: a file whose magic or checksum fails validation is quarantined
// under corrupted/ and DataCorrupt is returned.
func Test_DiskFileLayer_Read_CorruptChecksum_Quarantined(t *testing.T) {
	t.Parallel()

	d, dirs, _ := newDiskFileFixture(t)

	img := make([]byte, 32)

	if err := d.create(3, 9, RecordTSD, 32, [][]byte{img}); err != nil {
		t.Fatalf("create: %v", err)
	}

	path, err := dirs.pathOf(3, 9)
	if err != nil {
		t.Fatalf("pathOf: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}

	raw[diskFileHeaderSize] ^= 0xFF // flip a payload byte
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write mutated: %v", err)
	}

	_, _, err = d.read(3, 9)
	if err == nil {
		t.Fatalf("expected DataCorrupt error")
	}

	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("original file should have moved to corrupted/, still present at %q", path)
	}

	quarantined := filepath.Join(dirs.corruptedDir(), fileName(3, 9))
	if _, statErr := os.Stat(quarantined); statErr != nil {
		t.Fatalf("expected quarantined file at %q: %v", quarantined, statErr)
	}
}

// Contract: a sensor-id mismatch (wrong file addressed to the right path)
// is also treated as corruption.
func Test_DiskFileLayer_Read_SensorIDMismatch(t *testing.T) {
	t.Parallel()

	d, _, _ := newDiskFileFixture(t)

	if err := d.create(1, 5, RecordTSD, 32, [][]byte{make([]byte, 32)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err := d.read(1, 6)
	if err == nil {
		t.Fatalf("expected error reading with mismatched sensor id")
	}
}

// Contract: delete is idempotent — deleting an already-absent file is not
// an error (matches journal-replay semantics).
func Test_DiskFileLayer_Delete_Idempotent(t *testing.T) {
	t.Parallel()

	d, _, _ := newDiskFileFixture(t)

	if err := d.create(4, 1, RecordTSD, 32, [][]byte{make([]byte, 32)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := d.delete(4, 1); err != nil {
		t.Fatalf("first delete: %v", err)
	}

	if err := d.delete(4, 1); err != nil {
		t.Fatalf("second delete (already absent): %v", err)
	}
}

// Contract: a v1-shaped file (single RAM sector, legacy version) is still
// readable, per spec §4.6/§9 ("v1 readable but never produced").
func Test_DiskFileLayer_Read_V1Legacy(t *testing.T) {
	t.Parallel()

	d, dirs, _ := newDiskFileFixture(t)

	img := make([]byte, 32)
	img[0] = 0x42

	h := diskHeader{
		Version:     diskVersionV1,
		SensorID:    55,
		SectorCount: 1,
		SectorSize:  32,
		RecordType:  uint16(RecordTSD),
		Checksum:    checksumPayload(img),
	}

	buf := append(encodeDiskHeader(h), img...)

	path, err := dirs.pathOf(9, 55)
	if err != nil {
		t.Fatalf("pathOf: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write v1 file: %v", err)
	}

	decoded, payload, err := d.read(9, 55)
	if err != nil {
		t.Fatalf("read v1: %v", err)
	}

	if decoded.Version != diskVersionV1 {
		t.Fatalf("version = %d, want 1", decoded.Version)
	}

	if len(payload) != 32 || payload[0] != 0x42 {
		t.Fatalf("payload mismatch: %x", payload)
	}
}
