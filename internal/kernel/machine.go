package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/sysgate/internal/console"
	"github.com/loykin/sysgate/internal/fdtable"
	"github.com/loykin/sysgate/internal/fsys"
	"github.com/loykin/sysgate/internal/history"
	"github.com/loykin/sysgate/internal/kproc"
	"github.com/loykin/sysgate/internal/metrics"
	"github.com/loykin/sysgate/internal/syscalls"
	"github.com/loykin/sysgate/internal/user"
)

var (
	ErrPoweredOff = errors.New("machine powered off")
	ErrNoProgram  = errors.New("no such program")
	ErrBadImage   = errors.New("not an executable image")
)

// Defaults for zero Options fields.
const (
	DefaultStackPages     = 1
	DefaultMaxOpenFiles   = 128
	DefaultHistoryTimeout = 2 * time.Second
)

type Options struct {
	// FS holds the user-visible files. Nil means a fresh in-memory filesystem.
	FS      *fsys.Afero
	Console *console.Console
	Logger  *slog.Logger
	Sinks   []history.Sink

	// ExitBanner prints "<name>: exit(<status>)" when a process ends.
	ExitBanner     bool
	StackPages     int
	MaxOpenFiles   int
	MaxCmdline     int
	HistoryTimeout time.Duration
}

// Machine is a booted kernel: the filesystem and console, the system call
// dispatcher and every user process started on it.
type Machine struct {
	opts    Options
	fs      *fsys.Afero
	guarded *fsys.Guarded
	con     *console.Console
	disp    *syscalls.Dispatcher
	log     *slog.Logger
	bootID  string

	power    context.Context
	powerOff context.CancelFunc
	offOnce  sync.Once

	mu       sync.RWMutex
	programs map[string]user.Program
	procs    map[kproc.PID]*kproc.Process
	cmdlines map[kproc.PID]string
	lastPID  kproc.PID

	wg sync.WaitGroup
}

// New boots a machine.
func New(opts Options) *Machine {
	if opts.FS == nil {
		opts.FS = fsys.NewMemory()
	}
	if opts.Console == nil {
		opts.Console = console.New(nil, nil)
	}
	if opts.StackPages <= 0 {
		opts.StackPages = DefaultStackPages
	}
	if opts.MaxOpenFiles == 0 {
		opts.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = DefaultHistoryTimeout
	}
	m := &Machine{
		opts:     opts,
		fs:       opts.FS,
		guarded:  fsys.Guard(opts.FS),
		con:      opts.Console,
		bootID:   uuid.NewString(),
		programs: make(map[string]user.Program),
		procs:    make(map[kproc.PID]*kproc.Process),
		cmdlines: make(map[kproc.PID]string),
	}
	m.log = opts.Logger
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("boot_id", m.bootID)
	m.power, m.powerOff = context.WithCancel(context.Background())
	m.disp = syscalls.New(syscalls.Options{
		FS:      m.guarded,
		Console: m.con,
		Loader:  m,
		Power:   m,
		Logger:  m.log,
		Limits:  syscalls.Limits{MaxCmdline: opts.MaxCmdline},
	})
	m.log.Info("Machine booted", "stack_pages", opts.StackPages, "max_open_files", opts.MaxOpenFiles)
	return m
}

func (m *Machine) BootID() string { return m.bootID }

// Console returns the machine's console device.
func (m *Machine) Console() *console.Console { return m.con }

// FS returns the raw filesystem, for use while no process runs.
func (m *Machine) FS() *fsys.Afero { return m.fs }

// Register makes prog loadable under name. It does not create the
// executable; see Install.
func (m *Machine) Register(name string, prog user.Program) {
	m.mu.Lock()
	m.programs[name] = prog
	m.mu.Unlock()
}

// Programs lists the registered program names.
func (m *Machine) Programs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.programs))
	for name := range m.programs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Install writes an executable for each named program, or for every
// registered program when names is empty.
func (m *Machine) Install(names ...string) error {
	if len(names) == 0 {
		names = m.Programs()
	}
	for _, name := range names {
		m.mu.RLock()
		_, ok := m.programs[name]
		m.mu.RUnlock()
		if !ok {
			return fmt.Errorf("install %s: %w", name, ErrNoProgram)
		}
		if err := m.Put(name, Image(name)); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
	}
	return nil
}

// Put stores data as file name, replacing any existing file.
func (m *Machine) Put(name string, data []byte) error {
	return m.guarded.Do(func(fsys.FileSystem) error {
		return m.fs.WriteFile(name, data)
	})
}

// Run starts cmdline as a child of the kernel and waits for it. After a halt
// it returns ErrPoweredOff together with whatever status was collected.
func (m *Machine) Run(ctx context.Context, cmdline string) (int, error) {
	root := kproc.New(kproc.KernelPID, "kernel", nil, nil, nil)
	pid, err := m.Execute(ctx, root, cmdline)
	if err != nil {
		return -1, err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.power, cancel)
	defer stop()

	status := root.Wait(waitCtx, pid)
	switch {
	case m.power.Err() != nil:
		return status, ErrPoweredOff
	case ctx.Err() != nil:
		return status, ctx.Err()
	}
	return status, nil
}

// PowerOff turns the machine off. Blocked waits return -1 and every process
// that traps afterwards is terminated.
func (m *Machine) PowerOff() {
	m.offOnce.Do(func() {
		m.powerOff()
		m.log.Info("Machine powered off")
	})
}

func (m *Machine) Halted() bool { return m.power.Err() != nil }

// Shutdown powers the machine off and waits for every process to end.
func (m *Machine) Shutdown(ctx context.Context) error {
	m.PowerOff()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Processes returns a snapshot of every process started on this machine.
func (m *Machine) Processes() []kproc.Status {
	m.mu.RLock()
	procs := make([]*kproc.Process, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.RUnlock()

	out := make([]kproc.Status, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func (m *Machine) Process(pid kproc.PID) (kproc.Status, bool) {
	m.mu.RLock()
	p, ok := m.procs[pid]
	m.mu.RUnlock()
	if !ok {
		return kproc.Status{}, false
	}
	return p.Snapshot(), true
}

func (m *Machine) newProcess(name, cmdline string, parent *kproc.Process, stack *stackImage) *kproc.Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPID++
	p := kproc.New(m.lastPID, name, parent, stack.space, fdtable.New(m.opts.MaxOpenFiles))
	m.procs[p.ID] = p
	m.cmdlines[p.ID] = cmdline
	return p
}

// record sends a lifecycle event to every history sink.
func (m *Machine) record(t history.EventType, p *kproc.Process, status int) {
	if len(m.opts.Sinks) == 0 {
		return
	}
	m.mu.RLock()
	cmdline := m.cmdlines[p.ID]
	m.mu.RUnlock()
	rec := history.Record{
		BootID:     m.bootID,
		PID:        int(p.ID),
		Name:       p.Name,
		Cmdline:    cmdline,
		StartedAt:  p.StartedAt,
		ExitStatus: status,
	}
	if parent := p.Parent(); parent != nil {
		rec.ParentPID = int(parent.ID)
	}
	evt := history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
	for _, s := range m.opts.Sinks {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.HistoryTimeout)
		if err := s.Send(ctx, evt); err != nil {
			m.log.Warn("Failed to record process history", "pid", p.ID, "event", t, "error", err)
		}
		cancel()
	}
}

// terminate is the single place a process ends. Everything about the exit
// is settled before the parent can observe it.
func (m *Machine) terminate(p *kproc.Process, status int, banner bool) {
	if _, done := p.ExitStatus(); done {
		return
	}
	if banner && m.opts.ExitBanner {
		m.con.Printf("%s: exit(%d)\n", p.Name, status)
	}
	n, err := p.Files.CloseAll()
	if n > 0 {
		metrics.AddOpenFiles(-n)
	}
	if err != nil {
		m.log.Error("Failed to close files of exiting process", "pid", p.ID, "error", err)
	}
	metrics.IncExit(status)
	m.log.Info("Process exited", "pid", p.ID, "name", p.Name, "status", status)
	m.record(history.EventExit, p, status)
	p.Exit(status)
}
