package kernel

import (
	"errors"
	"runtime"

	"github.com/loykin/sysgate/internal/kproc"
	"github.com/loykin/sysgate/internal/metrics"
	"github.com/loykin/sysgate/internal/syscalls"
	"github.com/loykin/sysgate/internal/trap"
	"github.com/loykin/sysgate/internal/user"
	"github.com/loykin/sysgate/internal/vm"
)

// thread is the kernel side of one running process. Its Trap method is the
// system call entry point for the process's goroutine.
type thread struct {
	m *Machine
	p *kproc.Process
}

// Trap handles one system call. When the call ends the process, Trap does
// not return: the goroutine exits after the process is torn down.
func (t *thread) Trap(f *trap.Frame) {
	if t.m.Halted() {
		t.exit(-1, false)
	}
	out := t.m.disp.Dispatch(t.m.power, t.p, f)
	switch out.Action {
	case syscalls.Continue:
		return
	case syscalls.Halt:
		t.exit(out.Status, false)
	case syscalls.Terminate:
		t.exit(out.Status, true)
	default:
		t.exit(-1, true)
	}
}

func (t *thread) exit(status int, banner bool) {
	t.m.terminate(t.p, status, banner)
	runtime.Goexit()
}

// run is the body of a process goroutine. A program that returns exits with
// its return value; one that faults or panics exits with -1.
func (m *Machine) run(p *kproc.Process, prog user.Program, esp uint32) {
	defer m.wg.Done()
	t := &thread{m: m, p: p}
	defer func() {
		if r := recover(); r != nil {
			var fault *vm.Fault
			if err, ok := r.(error); ok && errors.As(err, &fault) {
				metrics.IncFault(fault.Reason)
				m.log.Warn("User process faulted", "pid", p.ID, "name", p.Name, "error", fault)
			} else {
				m.log.Error("User program panicked", "pid", p.ID, "name", p.Name, "panic", r)
			}
			m.terminate(p, -1, !m.Halted())
		}
	}()

	u := user.NewProc(p.Space, t, esp)
	u.Exit(prog(u))
}
