package fs

import (
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault-injection probabilities for [Chaos].
//
// Each rate is a float64 from 0.0 (never) to 1.0 (always). The zero value
// disables all fault injection. This package's fault surface is scoped to
// the handful of failure modes the tiered store actually needs to survive:
// a disk tier that fills up mid-migration (WriteFailRate, OpenFailRate), a
// journal append that doesn't make it to stable storage (SyncFailRate), and
// a disk file rename that loses a race with a full filesystem
// (RenameFailRate).
type ChaosConfig struct {
	// OpenFailRate controls how often FS.Create, and FS.OpenFile with a flag
	// that can create or write, fail before returning a handle. Returns
	// syscall.ENOSPC. Read-only opens (FS.Open) are never injected.
	OpenFailRate float64

	// WriteFailRate controls how often File.Write fails entirely, writing
	// zero bytes and returning syscall.ENOSPC — the shape of a disk tier
	// that is full when a sector image is about to be migrated.
	WriteFailRate float64

	// SyncFailRate controls how often File.Sync fails, returning
	// syscall.EIO. Models a write that reached the page cache but never
	// made it to stable storage.
	SyncFailRate float64

	// RenameFailRate controls how often FS.Rename fails, returning
	// syscall.ENOSPC. The disk-file writer and journal rotation both
	// depend on rename to make a write visible atomically.
	RenameFailRate float64
}

// Chaos wraps an [FS] and injects deterministic, seeded faults according to
// [ChaosConfig]. It is meant for exercising the sector store's recovery and
// disk-pressure paths (migration retries, quarantine on failed writes), not
// as a general-purpose fuzzer.
//
// Chaos is safe for concurrent use.
type Chaos struct {
	fs     FS
	config ChaosConfig

	mu  sync.Mutex
	rng *rand.Rand

	openFails   atomic.Int64
	writeFails  atomic.Int64
	syncFails   atomic.Int64
	renameFails atomic.Int64
}

// NewChaos creates a [Chaos] filesystem wrapping underlying. seed makes
// fault injection reproducible across runs. Panics if underlying is nil.
func NewChaos(underlying FS, seed int64, config *ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	if config == nil {
		config = &ChaosConfig{}
	}

	return &Chaos{
		fs:     underlying,
		config: *config,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
}

// ChaosStats reports how many faults of each kind [Chaos] has injected.
type ChaosStats struct {
	OpenFails   int64
	WriteFails  int64
	SyncFails   int64
	RenameFails int64
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:   c.openFails.Load(),
		WriteFails:  c.writeFails.Load(),
		SyncFails:   c.syncFails.Load(),
		RenameFails: c.renameFails.Load(),
	}
}

func (c *Chaos) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64() < rate
}

// Open opens path for reading. Open failures model OpenFailRate only for
// write-capable opens elsewhere; plain reads are never injected here.
func (c *Chaos) Open(path string) (File, error) {
	return c.fs.Open(path)
}

// Create creates or truncates path for writing, subject to OpenFailRate.
func (c *Chaos) Create(path string) (File, error) {
	if c.roll(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, &fs.PathError{Op: "create", Path: path, Err: errNoSpace}
	}

	f, err := c.fs.Create(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, chaos: c, path: path}, nil
}

// OpenFile opens path with flag/perm, subject to OpenFailRate for any flag
// that can create or write a file.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	writable := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0

	if writable && c.roll(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, &fs.PathError{Op: "open", Path: path, Err: errNoSpace}
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	if !writable {
		return f, nil
	}

	return &chaosFile{File: f, chaos: c, path: path}, nil
}

// ReadFile reads path's entire contents, passed through unmodified.
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	return c.fs.ReadFile(path)
}

// WriteFile writes data to path, subject to WriteFailRate.
func (c *Chaos) WriteFile(path string, data []byte, perm os.FileMode) error {
	if c.roll(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return &fs.PathError{Op: "write", Path: path, Err: errNoSpace}
	}

	return c.fs.WriteFile(path, data, perm)
}

// ReadDir reads path's directory entries, passed through unmodified.
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	return c.fs.ReadDir(path)
}

// MkdirAll creates path and its parents, passed through unmodified — bucket
// directory creation is not a fault-injection target for this store.
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

// Stat returns path's [os.FileInfo], passed through unmodified.
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	return c.fs.Stat(path)
}

// Exists reports whether path exists, passed through unmodified.
func (c *Chaos) Exists(path string) (bool, error) {
	return c.fs.Exists(path)
}

// Remove deletes path, passed through unmodified.
func (c *Chaos) Remove(path string) error {
	return c.fs.Remove(path)
}

// RemoveAll deletes path and its children, passed through unmodified.
func (c *Chaos) RemoveAll(path string) error {
	return c.fs.RemoveAll(path)
}

// Rename moves oldpath to newpath, subject to RenameFailRate — the failure
// mode a disk-file writer sees when the rename that publishes a finished
// write loses a race with a full filesystem.
func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.roll(c.config.RenameFailRate) {
		c.renameFails.Add(1)

		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errNoSpace}
	}

	return c.fs.Rename(oldpath, newpath)
}

var errNoSpace error = syscall.ENOSPC

var errIO error = syscall.EIO

// chaosFile wraps a writable [File] so Write/Sync can be made to fail
// according to the owning [Chaos]'s config.
type chaosFile struct {
	File
	chaos *Chaos
	path  string
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.chaos.roll(f.chaos.config.WriteFailRate) {
		f.chaos.writeFails.Add(1)

		return 0, &fs.PathError{Op: "write", Path: f.path, Err: errNoSpace}
	}

	return f.File.Write(p)
}

func (f *chaosFile) Sync() error {
	if f.chaos.roll(f.chaos.config.SyncFailRate) {
		f.chaos.syncFails.Add(1)

		return &fs.PathError{Op: "sync", Path: f.path, Err: errIO}
	}

	return f.File.Sync()
}

var _ FS = (*Chaos)(nil)
