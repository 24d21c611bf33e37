package kproc

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/loykin/sysgate/internal/fdtable"
	"github.com/loykin/sysgate/internal/vm"
)

// PID identifies a process. User processes are numbered from 1; 0 is the
// kernel's own context and is never anybody's child.
type PID int

const KernelPID PID = 0

// ChildRecord is what a parent remembers about one child. It outlives the
// child so the parent can collect the status after the child is gone.
type ChildRecord struct {
	ID         PID  `json:"pid"`
	Used       bool `json:"exited"`
	ExitStatus int  `json:"exit_status"`
	Waited     bool `json:"waited"`
}

// Status is a point-in-time view of a process for reporting.
type Status struct {
	PID        PID           `json:"pid"`
	Name       string        `json:"name"`
	ParentPID  PID           `json:"parent_pid"`
	State      string        `json:"state"` // running or exited
	ExitStatus int           `json:"exit_status"`
	OpenFiles  []int         `json:"open_files"`
	Children   []ChildRecord `json:"children"`
	StartedAt  time.Time     `json:"started_at"`
	ExitedAt   time.Time     `json:"exited_at,omitempty"`
}

// Process is the kernel-side context of one user process.
type Process struct {
	ID        PID
	Name      string
	Space     *vm.AddressSpace
	Files     *fdtable.Table
	StartedAt time.Time

	parent *Process

	mu         sync.Mutex
	children   map[PID]*ChildRecord
	waitingOn  PID
	sema       *semaphore.Weighted
	exited     bool
	exitStatus int
	exitedAt   time.Time
}

// New creates the context for process id. When parent is non-nil the child
// record is attached to it before New returns, so the parent can wait for
// the child even if the child exits immediately.
func New(id PID, name string, parent *Process, space *vm.AddressSpace, files *fdtable.Table) *Process {
	p := &Process{
		ID:        id,
		Name:      name,
		Space:     space,
		Files:     files,
		StartedAt: time.Now(),
		parent:    parent,
		children:  make(map[PID]*ChildRecord),
		sema:      semaphore.NewWeighted(1),
	}
	// Held from the start: a Release from an exiting child is the wake-up.
	p.sema.TryAcquire(1)
	if parent != nil {
		parent.mu.Lock()
		parent.children[id] = &ChildRecord{ID: id}
		parent.mu.Unlock()
	}
	return p
}

// Parent returns the process that spawned p, or nil for a root process.
func (p *Process) Parent() *Process { return p.parent }

// Exit records status as p's exit status and reports it to the parent. Only
// the first call has any effect; it returns false for later calls.
func (p *Process) Exit(status int) bool {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return false
	}
	p.exited = true
	p.exitStatus = status
	p.exitedAt = time.Now()
	p.mu.Unlock()

	if p.parent != nil {
		p.parent.childExited(p.ID, status)
	}
	return true
}

// childExited fills in the record before waking a parent blocked on exactly
// this child; both happen under the parent's lock.
func (p *Process) childExited(id PID, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.children[id]
	if !ok {
		return
	}
	rec.Used = true
	rec.ExitStatus = status
	if p.waitingOn == id {
		p.waitingOn = KernelPID
		p.sema.Release(1)
	}
}

// Wait blocks until child id exits and returns its exit status. It returns
// -1 at once if id is not a child of p or was already waited for, and -1 if
// ctx ends before the child exits. Only p's own thread may call Wait.
func (p *Process) Wait(ctx context.Context, id PID) int {
	p.mu.Lock()
	rec, ok := p.children[id]
	if !ok || rec.Waited {
		p.mu.Unlock()
		return -1
	}
	if rec.Used {
		rec.Waited = true
		p.mu.Unlock()
		return rec.ExitStatus
	}
	p.waitingOn = id
	p.mu.Unlock()

	err := p.sema.Acquire(ctx, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if p.waitingOn == id {
			p.waitingOn = KernelPID
			return -1
		}
		// The child signalled after ctx ended; take the permit back so the
		// semaphore is held again for the next wait.
		p.sema.TryAcquire(1)
	}
	rec.Waited = true
	return rec.ExitStatus
}

// ExitStatus returns p's exit status and whether it has exited.
func (p *Process) ExitStatus() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus, p.exited
}

// Children returns copies of p's child records ordered by pid.
func (p *Process) Children() []ChildRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.childrenLocked()
}

func (p *Process) childrenLocked() []ChildRecord {
	out := make([]ChildRecord, 0, len(p.children))
	for _, rec := range p.children {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Process) Snapshot() Status {
	p.mu.Lock()
	st := Status{
		PID:        p.ID,
		Name:       p.Name,
		State:      "running",
		ExitStatus: p.exitStatus,
		Children:   p.childrenLocked(),
		StartedAt:  p.StartedAt,
	}
	if p.exited {
		st.State = "exited"
		st.ExitedAt = p.exitedAt
	}
	p.mu.Unlock()

	if p.parent != nil {
		st.ParentPID = p.parent.ID
	}
	if p.Files != nil {
		st.OpenFiles = p.Files.FDs()
	}
	return st
}
