package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// WriteFunc writes one file. The default creates the file exclusively.
type WriteFunc func(path string, data []byte, perm os.FileMode) error

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithWriteFunc replaces the function used to write file contents.
func WithWriteFunc(fn WriteFunc) JournalOption {
	return func(j *Journal) {
		if fn != nil {
			j.write = fn
		}
	}
}

type journalEntry struct {
	path string
	dir  bool
}

// Journal records every path created during a multi-file write so that a
// single deferred Close can undo all of them unless Commit was called.
// It is safe for concurrent use.
type Journal struct {
	mu        sync.Mutex
	entries   []journalEntry
	committed bool
	write     WriteFunc
}

func NewJournal(opts ...JournalOption) *Journal {
	j := &Journal{write: writeExclusive}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// MkdirAll creates dir and any missing parents, recording each directory it
// actually created.
func (j *Journal) MkdirAll(dir string, perm os.FileMode) error {
	var missing []string
	for cur := filepath.Clean(dir); ; cur = filepath.Dir(cur) {
		if _, err := os.Lstat(cur); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		missing = append(missing, cur)
		if parent := filepath.Dir(cur); parent == cur {
			break
		}
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], perm); err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		j.record(journalEntry{path: missing[i], dir: true})
	}
	return nil
}

// WriteFile creates path with data. The path is recorded before the write so a
// partially written file is still removed on rollback. Existing files are
// never overwritten.
func (j *Journal) WriteFile(path string, data []byte, perm os.FileMode) error {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("journal: %s: %w", path, os.ErrExist)
	}
	if err := j.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	j.record(journalEntry{path: path})
	if err := j.write(path, data, perm); err != nil {
		if errors.Is(err, os.ErrExist) {
			j.forget(path)
		}
		return err
	}
	return nil
}

// Track registers a path created outside the journal, such as a renamed
// directory. Tracked paths are removed recursively on rollback.
func (j *Journal) Track(path string) {
	j.record(journalEntry{path: path})
}

// Commit keeps every recorded path; a later Close becomes a no-op.
func (j *Journal) Commit() {
	j.mu.Lock()
	j.committed = true
	j.mu.Unlock()
}

// Rollback removes recorded paths in reverse order. Directories are removed
// only once empty, so content that was already present survives.
func (j *Journal) Rollback() error {
	j.mu.Lock()
	entries := j.entries
	j.entries = nil
	j.mu.Unlock()

	var errs []error
	var dirs []string
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.dir {
			dirs = append(dirs, e.path)
			continue
		}
		if err := os.RemoveAll(e.path); err != nil {
			errs = append(errs, err)
		}
	}
	// Deepest directories first; concurrent MkdirAll calls may have recorded
	// a child before its parent.
	sort.Slice(dirs, func(a, b int) bool { return len(dirs[a]) > len(dirs[b]) })
	for _, dir := range dirs {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) && !isNotEmpty(dir) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close rolls back unless Commit was called. Intended for defer.
func (j *Journal) Close() error {
	j.mu.Lock()
	committed := j.committed
	j.mu.Unlock()
	if committed {
		return nil
	}
	return j.Rollback()
}

func (j *Journal) record(e journalEntry) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
}

func (j *Journal) forget(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].path == path {
			j.entries = append(j.entries[:i], j.entries[i+1:]...)
			return
		}
	}
}

func isNotEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func writeExclusive(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
