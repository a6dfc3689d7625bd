package fs

import (
	"errors"
	"os"
	"sync"
)

// CrashConfig controls [Crash] behavior. The zero value is usable.
//
// Crash currently has no tunable fault shape (unlike [ChaosConfig]): it
// always models the same thing, a hard power loss, and the only question
// is which writes had reached stable storage at the moment it happened.
// The struct exists so call sites read the same way as [NewChaos] and so
// tuning knobs can be added later without changing the constructor shape.
type CrashConfig struct{}

// TempDirer is the minimal subset of *testing.T that [NewCrash] needs.
type TempDirer interface {
	TempDir() string
}

// crashSnapshot is the last state of a path known to have reached stable
// storage (committed by a [File.Sync] call, or observed at first touch).
type crashSnapshot struct {
	exists  bool
	content []byte
}

// Crash wraps an [FS] and simulates power loss: every write is visible
// immediately to reads through the same [Crash] (matching a real page
// cache), but [SimulateCrash] rolls every tracked path back to its last
// [File.Sync]'d content, discarding anything written-but-not-synced —
// exactly the durability gap the recovery journal (C8) and disk file
// headers (C6) are built to tolerate.
//
// Directory creation (MkdirAll) and Remove are treated as durable the
// instant they happen. Rename moves the source's last synced snapshot to
// the destination, so renaming a file that was never synced leaves nothing
// at the destination after a crash, and renaming a file with unsynced
// writes rolls the destination back to the synced content. The journal
// and disk-file formats self-validate via CRC because the bytes inside a
// file can be torn.
//
// Crash is safe for concurrent use.
type Crash struct {
	fs FS

	mu      sync.Mutex
	durable map[string]crashSnapshot
}

// NewCrash creates a [Crash] wrapping underlying, which should be OS-backed
// (typically [NewReal]). tb is accepted for symmetry with call sites that
// scope a [Crash] to a test's temp directory; it is otherwise unused.
func NewCrash(tb TempDirer, underlying FS, config *CrashConfig) (*Crash, error) {
	if tb == nil {
		return nil, errors.New("crashfs: tb is nil")
	}

	if underlying == nil {
		return nil, errors.New("crashfs: underlying fs is nil")
	}

	return &Crash{
		fs:      underlying,
		durable: make(map[string]crashSnapshot),
	}, nil
}

// Recover resets any crash-injected state. Kept for symmetry with
// [SimulateCrash]; Crash has no latched failure mode to clear today.
func (c *Crash) Recover() {}

// SimulateCrash simulates a power loss: every tracked path is rewritten (or
// removed) to match its last durably-synced snapshot.
func (c *Crash) SimulateCrash() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for path, snap := range c.durable {
		if !snap.exists {
			if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}

			continue
		}

		if err := c.fs.WriteFile(path, snap.content, 0o644); err != nil {
			return err
		}
	}

	return nil
}

// ensureTracked captures path's current content as its durable baseline the
// first time Crash sees it. Must run before any mutation of path.
func (c *Crash) ensureTracked(path string) error {
	if _, ok := c.durable[path]; ok {
		return nil
	}

	content, err := c.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.durable[path] = crashSnapshot{exists: false}

			return nil
		}

		return err
	}

	c.durable[path] = crashSnapshot{exists: true, content: content}

	return nil
}

// commit records path's current real content as durable, following a
// successful [File.Sync].
func (c *Crash) commit(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	content, err := c.fs.ReadFile(path)
	if err != nil {
		return err
	}

	c.durable[path] = crashSnapshot{exists: true, content: content}

	return nil
}

// Open opens path for reading. Reads always see the live (not yet
// necessarily synced) state, matching real page-cache visibility.
func (c *Crash) Open(path string) (File, error) {
	return c.fs.Open(path)
}

// Create creates or truncates path for writing; its contents are only
// durable after the returned [File] is synced.
func (c *Crash) Create(path string) (File, error) {
	c.mu.Lock()
	err := c.ensureTracked(path)
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	f, err := c.fs.Create(path)
	if err != nil {
		return nil, err
	}

	return &crashFile{File: f, crash: c, path: path}, nil
}

// OpenFile opens path with flag/perm; writes through the result are only
// durable after it is synced.
func (c *Crash) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	writable := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0

	if writable {
		c.mu.Lock()
		err := c.ensureTracked(path)
		c.mu.Unlock()

		if err != nil {
			return nil, err
		}
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	if !writable {
		return f, nil
	}

	return &crashFile{File: f, crash: c, path: path}, nil
}

// ReadFile reads path's current (live) contents.
func (c *Crash) ReadFile(path string) ([]byte, error) {
	return c.fs.ReadFile(path)
}

// WriteFile writes data to path and commits it durably right away. [FS]'s
// own contract already documents WriteFile as "not atomic or durable", so
// modeling it as immediately committed costs nothing callers could have
// relied on; nothing in this store uses it on a crash-critical path.
func (c *Crash) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := c.fs.WriteFile(path, data, perm); err != nil {
		return err
	}

	c.mu.Lock()
	c.durable[path] = crashSnapshot{exists: true, content: data}
	c.mu.Unlock()

	return nil
}

// ReadDir reads path's live directory entries.
func (c *Crash) ReadDir(path string) ([]os.DirEntry, error) {
	return c.fs.ReadDir(path)
}

// MkdirAll creates path and its parents, durable immediately.
func (c *Crash) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

// Stat returns path's live file info.
func (c *Crash) Stat(path string) (os.FileInfo, error) {
	return c.fs.Stat(path)
}

// Exists reports whether path currently (live) exists.
func (c *Crash) Exists(path string) (bool, error) {
	return c.fs.Exists(path)
}

// Remove deletes path, durable immediately.
func (c *Crash) Remove(path string) error {
	c.mu.Lock()
	err := c.ensureTracked(path)
	c.mu.Unlock()

	if err != nil {
		return err
	}

	if err := c.fs.Remove(path); err != nil {
		return err
	}

	c.mu.Lock()
	c.durable[path] = crashSnapshot{exists: false}
	c.mu.Unlock()

	return nil
}

// RemoveAll deletes path and its children, durable immediately.
func (c *Crash) RemoveAll(path string) error {
	return c.fs.RemoveAll(path)
}

// Rename moves oldpath to newpath. The destination's durability follows the
// source's: if the source's content was never synced, the rename is not
// assumed to survive a crash either.
func (c *Crash) Rename(oldpath, newpath string) error {
	c.mu.Lock()
	err := c.ensureTracked(oldpath)
	c.mu.Unlock()

	if err != nil {
		return err
	}

	if err := c.fs.Rename(oldpath, newpath); err != nil {
		return err
	}

	c.mu.Lock()
	c.durable[newpath] = c.durable[oldpath]
	delete(c.durable, oldpath)
	c.mu.Unlock()

	return nil
}

var _ FS = (*Crash)(nil)

// crashFile wraps a writable [File] so Sync commits its content to the
// owning [Crash]'s durable snapshot.
type crashFile struct {
	File
	crash *Crash
	path  string
}

func (f *crashFile) Sync() error {
	if err := f.File.Sync(); err != nil {
		return err
	}

	return f.crash.commit(f.path)
}
