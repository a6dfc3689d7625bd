package imxengine

import (
	"os"
	"testing"
	"time"

	"github.com/imxengine/imxengine/pkg/fs"
)

func newJournalFixture(t *testing.T) (*journal, *bucketDirectory) {
	t.Helper()

	root := t.TempDir()
	dirs := newBucketDirectory(root, 1000)
	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	j := newJournal(fs.NewReal(), dirs, now)

	if err := j.open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	t.Cleanup(func() { _ = j.close() })

	return j, dirs
}

// Contract: appended records are read back in order via readAll.
func Test_Journal_AppendReadAll_RoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newJournalFixture(t)

	if err := j.append(journalOpCreate, 10, 100, 0); err != nil {
		t.Fatalf("append 1: %v", err)
	}

	if err := j.append(journalOpDelete, 11, 101, 0); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	if err := j.append(journalOpUpdateLink, 12, 102, 55); err != nil {
		t.Fatalf("append 3: %v", err)
	}

	recs, err := j.readAll()
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}

	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}

	if recs[0].Op != journalOpCreate || recs[0].TargetDisk != 10 || recs[0].SensorID != 100 {
		t.Fatalf("record 0 = %+v", recs[0])
	}

	if recs[2].Op != journalOpUpdateLink || recs[2].PriorLink != 55 {
		t.Fatalf("record 2 = %+v", recs[2])
	}
}

// Contract: a torn trailing record (partial write from a crash mid-append)
// is dropped, not treated as corruption of the whole journal.
func Test_Journal_ReadAll_DropsTornTrailingRecord(t *testing.T) {
	t.Parallel()

	j, dirs := newJournalFixture(t)

	if err := j.append(journalOpCreate, 1, 1, 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := j.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash mid-append: append a short, garbage tail.
	f, err := os.OpenFile(dirs.journalPath(), os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}

	if _, err := f.Write([]byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	recs, err := j.readAll()
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}

	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1 (torn tail dropped)", len(recs))
	}
}

// Contract: rotate moves the active journal to .bak and leaves a fresh
// empty active journal.
func Test_Journal_Rotate_MovesToBak(t *testing.T) {
	t.Parallel()

	j, dirs := newJournalFixture(t)

	if err := j.append(journalOpCreate, 1, 1, 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := j.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if _, err := os.Stat(dirs.journalBakPath()); err != nil {
		t.Fatalf("expected .bak journal: %v", err)
	}

	recs, err := j.readAll()
	if err != nil {
		t.Fatalf("readAll after rotate: %v", err)
	}

	if len(recs) != 0 {
		t.Fatalf("got %d records after rotate, want 0", len(recs))
	}

	// The active journal must still be appendable post-rotate.
	if err := j.append(journalOpDelete, 2, 2, 0); err != nil {
		t.Fatalf("append after rotate: %v", err)
	}
}

// Contract: an absent journal file is treated as empty, not an error.
func Test_Journal_ReadAll_AbsentFileIsEmpty(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dirs := newBucketDirectory(root, 1000)
	j := newJournal(fs.NewReal(), dirs, time.Now)

	recs, err := j.readAll()
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}

	if len(recs) != 0 {
		t.Fatalf("got %d records, want 0", len(recs))
	}
}
