package fdtable

import (
	"errors"
	"sort"
	"sync"

	"github.com/loykin/sysgate/internal/fsys"
)

// FirstFD is the first descriptor handed out; 0 and 1 belong to the console.
const FirstFD = 2

var ErrTableFull = errors.New("too many open files")

// Entry is one open file of a process.
type Entry struct {
	FD   int
	File fsys.File
}

// Table maps descriptors to open files for a single process and owns the
// handles it holds. Descriptors come from a counter that only moves forward,
// so a closed descriptor is never reissued.
//
// Only the owning process mutates a table; the lock lets the monitor read it
// while the process runs.
type Table struct {
	mu      sync.Mutex
	next    int
	limit   int
	entries map[int]*Entry
}

// New returns an empty table holding at most limit files (limit <= 0 means
// unlimited).
func New(limit int) *Table {
	return &Table{next: FirstFD, limit: limit, entries: make(map[int]*Entry)}
}

// Insert takes ownership of f and returns its new descriptor.
func (t *Table) Insert(f fsys.File) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit > 0 && len(t.entries) >= t.limit {
		return -1, ErrTableFull
	}
	fd := t.next
	t.next++
	t.entries[fd] = &Entry{FD: fd, File: f}
	return fd, nil
}

// Lookup returns the file for fd.
func (t *Table) Lookup(fd int) (fsys.File, bool) {
	t.mu.Lock()
	e, ok := t.entries[fd]
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.File, true
}

// Close closes and forgets fd. An unknown fd is ignored and reported as
// false; no other entry is affected.
func (t *Table) Close(fd int) (bool, error) {
	t.mu.Lock()
	e, ok := t.entries[fd]
	if ok {
		delete(t.entries, fd)
	}
	t.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, e.File.Close()
}

// CloseAll releases every entry in descriptor order and returns how many were
// closed along with the first close error.
func (t *Table) CloseAll() (int, error) {
	fds := t.FDs()
	var first error
	for _, fd := range fds {
		if _, err := t.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	return len(fds), first
}

// FDs returns the open descriptors in ascending order.
func (t *Table) FDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.entries))
	for fd := range t.entries {
		out = append(out, fd)
	}
	sort.Ints(out)
	return out
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
