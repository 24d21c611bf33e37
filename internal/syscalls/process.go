package syscalls

import (
	"context"
	"strings"

	"github.com/loykin/sysgate/internal/fsys"
	"github.com/loykin/sysgate/internal/kproc"
	"github.com/loykin/sysgate/internal/trap"
)

func (d *Dispatcher) halt(p *kproc.Process) (int32, error) {
	d.log.Info("Machine halt requested", "pid", p.ID, "name", p.Name)
	if d.power != nil {
		d.power.PowerOff()
	}
	return 0, errHalt
}

func (d *Dispatcher) exit(a trap.Args) (int32, error) {
	status, err := a.Int(1)
	if err != nil {
		return 0, err
	}
	return 0, exitRequest{status: int(status)}
}

func (d *Dispatcher) exec(ctx context.Context, p *kproc.Process, a trap.Args) (int32, error) {
	cmdline, err := a.String(1, d.limits.MaxCmdline)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return -1, nil
	}
	prog := fields[0]
	err = d.fs.Do(func(fs fsys.FileSystem) error {
		f, err := fs.Open(prog)
		if err != nil {
			return err
		}
		return f.Close()
	})
	if err != nil {
		d.log.Debug("exec: program not found", "pid", p.ID, "program", prog, "error", err)
		return -1, nil
	}
	if d.loader == nil {
		return -1, nil
	}
	pid, err := d.loader.Execute(ctx, p, cmdline)
	if err != nil {
		d.log.Warn("exec: load failed", "pid", p.ID, "cmdline", cmdline, "error", err)
		return -1, nil
	}
	return int32(pid), nil
}

func (d *Dispatcher) wait(ctx context.Context, p *kproc.Process, a trap.Args) (int32, error) {
	pid, err := a.Int(1)
	if err != nil {
		return 0, err
	}
	return int32(p.Wait(ctx, kproc.PID(pid))), nil
}
