package fsys

import (
	"sync"
	"time"

	"github.com/loykin/sysgate/internal/metrics"
)

// Guarded serializes every call into a FileSystem, and into every File it
// hands out, behind one global lock. Coarse-grained on purpose: the
// filesystem underneath is not safe for concurrent use.
type Guarded struct {
	mu sync.Mutex
	fs FileSystem
}

func Guard(fs FileSystem) *Guarded { return &Guarded{fs: fs} }

func (g *Guarded) lock() {
	start := time.Now()
	g.mu.Lock()
	metrics.ObserveFSLockWait(time.Since(start).Seconds())
}

// Do runs fn with the lock held, for sequences that must be atomic with
// respect to other filesystem users. Files opened inside fn are raw handles
// and must not escape it.
func (g *Guarded) Do(fn func(fs FileSystem) error) error {
	g.lock()
	defer g.mu.Unlock()
	return fn(g.fs)
}

func (g *Guarded) Open(name string) (File, error) {
	g.lock()
	defer g.mu.Unlock()
	f, err := g.fs.Open(name)
	if err != nil {
		return nil, err
	}
	return &guardedFile{g: g, f: f}, nil
}

func (g *Guarded) Create(name string, size int64) error {
	g.lock()
	defer g.mu.Unlock()
	return g.fs.Create(name, size)
}

func (g *Guarded) Remove(name string) error {
	g.lock()
	defer g.mu.Unlock()
	return g.fs.Remove(name)
}

type guardedFile struct {
	g *Guarded
	f File
}

func (h *guardedFile) Read(p []byte) (int, error) {
	h.g.lock()
	defer h.g.mu.Unlock()
	return h.f.Read(p)
}

func (h *guardedFile) Write(p []byte) (int, error) {
	h.g.lock()
	defer h.g.mu.Unlock()
	return h.f.Write(p)
}

func (h *guardedFile) Seek(pos int64) error {
	h.g.lock()
	defer h.g.mu.Unlock()
	return h.f.Seek(pos)
}

func (h *guardedFile) Tell() (int64, error) {
	h.g.lock()
	defer h.g.mu.Unlock()
	return h.f.Tell()
}

func (h *guardedFile) Length() (int64, error) {
	h.g.lock()
	defer h.g.mu.Unlock()
	return h.f.Length()
}

func (h *guardedFile) Close() error {
	h.g.lock()
	defer h.g.mu.Unlock()
	return h.f.Close()
}
