package fs

import (
	"os"
	"path/filepath"
	"testing"
)

// Contract: Exists reports false, not an error, for a path that was never
// created — the common case when probing for a disk file that hasn't been
// migrated yet.
func Test_Real_Exists_MissingPath_ReturnsFalseNoError(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()

	exists, err := fsys.Exists(filepath.Join(dir, "sector_5_sensor_1.imx"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	if exists {
		t.Fatalf("exists = true, want false")
	}
}

// Contract: Exists reports true for a plain file.
func Test_Real_Exists_RegularFile_ReturnsTrue(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()
	path := filepath.Join(dir, "sector_5_sensor_1.imx")

	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	exists, err := fsys.Exists(path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	if !exists {
		t.Fatalf("exists = false, want true")
	}
}

// Contract: Exists reports true for a directory — bucket directories are
// probed the same way disk files are.
func Test_Real_Exists_Directory_ReturnsTrue(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := t.TempDir()
	bucket := filepath.Join(dir, "0")

	if err := os.MkdirAll(bucket, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	exists, err := fsys.Exists(bucket)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	if !exists {
		t.Fatalf("exists = false, want true")
	}
}
