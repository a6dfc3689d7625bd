package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/imxengine/imxengine/pkg/fs"
)

// Contract: a byte range written and synced before SimulateCrash survives
// it unchanged.
func Test_Crash_SyncedWrite_SurvivesCrash(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "recovery.journal")

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	if err != nil {
		t.Fatalf("NewCrash: %v", err)
	}

	f, err := crash.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	if _, err := f.Write([]byte("record-one")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := crash.SimulateCrash(); err != nil {
		t.Fatalf("SimulateCrash: %v", err)
	}

	got, err := crash.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "record-one" {
		t.Fatalf("content = %q, want %q", string(got), "record-one")
	}
}

// Contract: a write made after the last Sync is lost on SimulateCrash — the
// exact gap the recovery journal's torn-record handling exists to cover.
func Test_Crash_UnsyncedWrite_LostOnCrash(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "recovery.journal")

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	if err != nil {
		t.Fatalf("NewCrash: %v", err)
	}

	f, err := crash.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	if _, err := f.Write([]byte("committed")); err != nil {
		t.Fatalf("Write 1: %v", err)
	}

	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if _, err := f.Write([]byte("-torn-tail")); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	if err := crash.SimulateCrash(); err != nil {
		t.Fatalf("SimulateCrash: %v", err)
	}

	got, err := crash.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "committed" {
		t.Fatalf("content = %q, want %q (unsynced tail dropped)", string(got), "committed")
	}
}

// Contract: a file created but never synced does not exist after a crash.
func Test_Crash_NeverSyncedFile_AbsentAfterCrash(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "sector_9_sensor_2.imx")

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	if err != nil {
		t.Fatalf("NewCrash: %v", err)
	}

	f, err := crash.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.Write([]byte("half-written-disk-file")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := crash.SimulateCrash(); err != nil {
		t.Fatalf("SimulateCrash: %v", err)
	}

	exists, err := crash.Exists(path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	if exists {
		t.Fatalf("expected file to vanish after crash with no prior sync")
	}
}

// Contract: a rename of a synced temp file onto its final name survives a
// crash — the disk-file writer's atomic-publish pattern.
func Test_Crash_RenameOfSyncedFile_SurvivesCrash(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	tmp := filepath.Join(root, ".sector_1_sensor_1.imx.tmp")
	final := filepath.Join(root, "sector_1_sensor_1.imx")

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	if err != nil {
		t.Fatalf("NewCrash: %v", err)
	}

	f, err := crash.Create(tmp)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.Write([]byte("disk-file-bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := crash.Rename(tmp, final); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if err := crash.SimulateCrash(); err != nil {
		t.Fatalf("SimulateCrash: %v", err)
	}

	got, err := crash.ReadFile(final)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "disk-file-bytes" {
		t.Fatalf("content = %q, want %q", string(got), "disk-file-bytes")
	}
}

// Contract: NewCrash rejects a nil underlying filesystem rather than
// panicking later on first use.
func Test_Crash_New_RejectsNilUnderlying(t *testing.T) {
	t.Parallel()

	c, err := fs.NewCrash(t, nil, &fs.CrashConfig{})
	if err == nil {
		t.Fatalf("expected error for nil underlying fs")
	}

	if c != nil {
		t.Fatalf("expected nil *Crash alongside error")
	}
}
