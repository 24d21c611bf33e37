package syscalls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/sysgate/internal/abi"
	"github.com/loykin/sysgate/internal/console"
	"github.com/loykin/sysgate/internal/fsys"
	"github.com/loykin/sysgate/internal/kproc"
	"github.com/loykin/sysgate/internal/metrics"
	"github.com/loykin/sysgate/internal/trap"
	"github.com/loykin/sysgate/internal/vm"
)

const (
	// DefaultMaxCmdline bounds an exec command line: it must fit the new
	// process's stack page.
	DefaultMaxCmdline = vm.PageSize
	maxPathLen        = vm.PageSize
)

// Loader starts a new process running cmdline as a child of parent.
type Loader interface {
	Execute(ctx context.Context, parent *kproc.Process, cmdline string) (kproc.PID, error)
}

// Power turns the machine off.
type Power interface {
	PowerOff()
}

type Limits struct {
	MaxCmdline int
}

type Options struct {
	FS      *fsys.Guarded
	Console *console.Console
	Loader  Loader
	Power   Power
	Logger  *slog.Logger
	Limits  Limits
}

// Action tells the trap entry what to do with the caller after a call.
type Action int

const (
	Continue  Action = iota // resume the caller with the result register set
	Terminate               // end the caller with Outcome.Status
	Halt                    // the machine was powered off
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Terminate:
		return "terminate"
	case Halt:
		return "halt"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Outcome is the result of dispatching one trap.
type Outcome struct {
	Call   abi.Number
	Action Action
	Status int
	// Err is the protocol violation that ended the caller, if any.
	Err error
}

// exitRequest is returned by the exit handler to end the caller.
type exitRequest struct{ status int }

func (e exitRequest) Error() string { return fmt.Sprintf("exit(%d)", e.status) }

var (
	errHalt        = errors.New("machine halted")
	errUnsupported = errors.New("unsupported system call")
)

// Dispatcher decodes system calls and runs their handlers on the calling
// process's thread.
type Dispatcher struct {
	fs     *fsys.Guarded
	con    *console.Console
	loader Loader
	power  Power
	log    *slog.Logger
	limits Limits
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		fs:     opts.FS,
		con:    opts.Console,
		loader: opts.Loader,
		power:  opts.Power,
		log:    opts.Logger,
		limits: opts.Limits,
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.con == nil {
		d.con = console.New(nil, nil)
	}
	if d.limits.MaxCmdline <= 0 {
		d.limits.MaxCmdline = DefaultMaxCmdline
	}
	return d
}

// Dispatch services the trap described by f on behalf of p. On Continue the
// handler result is in f.EAX; otherwise the caller must not resume.
func (d *Dispatcher) Dispatch(ctx context.Context, p *kproc.Process, f *trap.Frame) Outcome {
	args := f.Args(p.Space)
	n, err := args.Number()
	if err != nil {
		return d.fail(p, abi.Unsupported, err)
	}

	start := time.Now()
	ret, err := d.call(ctx, p, n, args)
	metrics.IncSyscall(n.String())
	metrics.ObserveSyscall(n.String(), time.Since(start).Seconds())

	if err == nil {
		f.SetReturn(ret)
		d.log.Debug("syscall", "pid", p.ID, "call", n.String(), "result", ret)
		return Outcome{Call: n, Action: Continue}
	}
	var ex exitRequest
	switch {
	case errors.As(err, &ex):
		return Outcome{Call: n, Action: Terminate, Status: ex.status}
	case errors.Is(err, errHalt):
		return Outcome{Call: n, Action: Halt, Status: -1}
	}
	return d.fail(p, n, err)
}

// fail ends the caller for a protocol violation.
func (d *Dispatcher) fail(p *kproc.Process, n abi.Number, err error) Outcome {
	var fault *vm.Fault
	if errors.As(err, &fault) {
		metrics.IncFault(fault.Reason)
		d.log.Warn("Bad user address in system call", "pid", p.ID, "name", p.Name, "call", n.String(), "addr", fmt.Sprintf("%#08x", fault.Addr), "reason", fault.Reason)
	} else {
		metrics.IncFault("unsupported")
		d.log.Warn("Unsupported system call", "pid", p.ID, "name", p.Name, "error", err)
	}
	return Outcome{Call: n, Action: Terminate, Status: -1, Err: err}
}

func (d *Dispatcher) call(ctx context.Context, p *kproc.Process, n abi.Number, a trap.Args) (int32, error) {
	switch n {
	case abi.Halt:
		return d.halt(p)
	case abi.Exit:
		return d.exit(a)
	case abi.Exec:
		return d.exec(ctx, p, a)
	case abi.Wait:
		return d.wait(ctx, p, a)
	case abi.Create:
		return d.create(a)
	case abi.Remove:
		return d.remove(a)
	case abi.Open:
		return d.open(p, a)
	case abi.Filesize:
		return d.filesize(p, a)
	case abi.Read:
		return d.read(p, a)
	case abi.Write:
		return d.write(p, a)
	case abi.Seek:
		return d.seek(p, a)
	case abi.Tell:
		return d.tell(p, a)
	case abi.Close:
		return d.close(p, a)
	case abi.Unsupported:
		raw, _ := a.Word(0)
		return 0, fmt.Errorf("%w: %d", errUnsupported, int32(raw))
	}
	return 0, fmt.Errorf("%w: %s", errUnsupported, n)
}
