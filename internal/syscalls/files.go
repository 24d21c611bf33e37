package syscalls

import (
	"errors"

	"github.com/loykin/sysgate/internal/abi"
	"github.com/loykin/sysgate/internal/fsys"
	"github.com/loykin/sysgate/internal/kproc"
	"github.com/loykin/sysgate/internal/metrics"
	"github.com/loykin/sysgate/internal/trap"
)

func (d *Dispatcher) create(a trap.Args) (int32, error) {
	name, err := a.String(1, maxPathLen)
	if err != nil {
		return 0, err
	}
	size, err := a.Int(2)
	if err != nil {
		return 0, err
	}
	if err := d.fs.Create(name, int64(size)); err != nil {
		d.collaboratorError("create", name, err)
		return 0, nil
	}
	return 1, nil
}

func (d *Dispatcher) remove(a trap.Args) (int32, error) {
	name, err := a.String(1, maxPathLen)
	if err != nil {
		return 0, err
	}
	if err := d.fs.Remove(name); err != nil {
		d.collaboratorError("remove", name, err)
		return 0, nil
	}
	return 1, nil
}

func (d *Dispatcher) open(p *kproc.Process, a trap.Args) (int32, error) {
	name, err := a.String(1, maxPathLen)
	if err != nil {
		return 0, err
	}
	f, err := d.fs.Open(name)
	if err != nil {
		d.collaboratorError("open", name, err)
		return -1, nil
	}
	fd, err := p.Files.Insert(f)
	if err != nil {
		d.log.Debug("open: descriptor table full", "pid", p.ID, "name", name)
		_ = f.Close()
		return -1, nil
	}
	metrics.AddOpenFiles(1)
	return int32(fd), nil
}

func (d *Dispatcher) filesize(p *kproc.Process, a trap.Args) (int32, error) {
	f, ok, err := lookup(p, a)
	if err != nil || !ok {
		return -1, err
	}
	n, err := f.Length()
	if err != nil {
		d.collaboratorError("filesize", "", err)
		return -1, nil
	}
	return int32(n), nil
}

// read validates the whole destination before consulting the descriptor, so
// a bad buffer ends the caller even when the descriptor is unknown.
func (d *Dispatcher) read(p *kproc.Process, a trap.Args) (int32, error) {
	fd, err := a.Int(1)
	if err != nil {
		return 0, err
	}
	size, err := a.Word(3)
	if err != nil {
		return 0, err
	}
	segs, err := a.Buffer(2, size)
	if err != nil {
		return 0, err
	}

	if fd == abi.StdinFD {
		for _, seg := range segs {
			for i := range seg {
				seg[i] = d.con.Getc()
			}
		}
		return int32(size), nil
	}

	f, ok := p.Files.Lookup(int(fd))
	if !ok {
		return -1, nil
	}
	buf := make([]byte, size)
	n, err := f.Read(buf)
	if err != nil {
		d.collaboratorError("read", "", err)
		return -1, nil
	}
	scatter(segs, buf[:n])
	return int32(n), nil
}

func (d *Dispatcher) write(p *kproc.Process, a trap.Args) (int32, error) {
	fd, err := a.Int(1)
	if err != nil {
		return 0, err
	}
	size, err := a.Word(3)
	if err != nil {
		return 0, err
	}
	segs, err := a.Buffer(2, size)
	if err != nil {
		return 0, err
	}

	if fd == abi.StdoutFD {
		d.con.Putbuf(gather(segs, size))
		return int32(size), nil
	}

	f, ok := p.Files.Lookup(int(fd))
	if !ok {
		return -1, nil
	}
	n, err := f.Write(gather(segs, size))
	if err != nil {
		d.collaboratorError("write", "", err)
		return -1, nil
	}
	return int32(n), nil
}

func (d *Dispatcher) seek(p *kproc.Process, a trap.Args) (int32, error) {
	f, ok, err := lookup(p, a)
	if err != nil || !ok {
		return -1, err
	}
	pos, err := a.Int(2)
	if err != nil {
		return 0, err
	}
	if err := f.Seek(int64(pos)); err != nil {
		d.collaboratorError("seek", "", err)
		return -1, nil
	}
	return 0, nil
}

func (d *Dispatcher) tell(p *kproc.Process, a trap.Args) (int32, error) {
	f, ok, err := lookup(p, a)
	if err != nil || !ok {
		return -1, err
	}
	pos, err := f.Tell()
	if err != nil {
		d.collaboratorError("tell", "", err)
		return -1, nil
	}
	return int32(pos), nil
}

func (d *Dispatcher) close(p *kproc.Process, a trap.Args) (int32, error) {
	fd, err := a.Int(1)
	if err != nil {
		return 0, err
	}
	closed, err := p.Files.Close(int(fd))
	if closed {
		metrics.AddOpenFiles(-1)
	}
	if err != nil {
		d.collaboratorError("close", "", err)
	}
	return 0, nil
}

// lookup resolves the descriptor in slot 1.
func lookup(p *kproc.Process, a trap.Args) (fsys.File, bool, error) {
	fd, err := a.Int(1)
	if err != nil {
		return nil, false, err
	}
	f, ok := p.Files.Lookup(int(fd))
	return f, ok, nil
}

// collaboratorError logs a filesystem failure that the caller only sees as a
// failure sentinel. Expected outcomes (missing file, bad name) stay at debug.
func (d *Dispatcher) collaboratorError(op, name string, err error) {
	if errors.Is(err, fsys.ErrNotFound) || errors.Is(err, fsys.ErrExists) || errors.Is(err, fsys.ErrInvalidName) ||
		errors.Is(err, fsys.ErrTooLarge) || errors.Is(err, fsys.ErrBadOffset) {
		d.log.Debug("filesystem call failed", "op", op, "name", name, "error", err)
		return
	}
	d.log.Error("filesystem call failed", "op", op, "name", name, "error", err)
}

func gather(segs [][]byte, size uint32) []byte {
	buf := make([]byte, 0, size)
	for _, seg := range segs {
		buf = append(buf, seg...)
	}
	return buf
}

func scatter(segs [][]byte, data []byte) {
	for _, seg := range segs {
		if len(data) == 0 {
			return
		}
		data = data[copy(seg, data):]
	}
}
