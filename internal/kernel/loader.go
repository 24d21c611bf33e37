package kernel

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/loykin/sysgate/internal/fsys"
	"github.com/loykin/sysgate/internal/history"
	"github.com/loykin/sysgate/internal/kproc"
	"github.com/loykin/sysgate/internal/metrics"
	"github.com/loykin/sysgate/internal/user"
	"github.com/loykin/sysgate/internal/vm"
)

const imageMagic = "#!sysgate "

// Image returns the executable file content that loads program name.
func Image(name string) []byte {
	return []byte(imageMagic + name + "\n")
}

// parseImage returns the program name an executable refers to.
func parseImage(data []byte) (string, error) {
	if !bytes.HasPrefix(data, []byte(imageMagic)) {
		return "", ErrBadImage
	}
	line := data[len(imageMagic):]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	name := strings.TrimSpace(string(line))
	if name == "" {
		return "", ErrBadImage
	}
	return name, nil
}

type stackImage struct {
	space *vm.AddressSpace
	esp   uint32
}

// Execute loads the program named by the first word of cmdline and starts it
// as a child of parent. The child is attached to parent before it can run.
func (m *Machine) Execute(_ context.Context, parent *kproc.Process, cmdline string) (kproc.PID, error) {
	if m.Halted() {
		return 0, ErrPoweredOff
	}
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return 0, fmt.Errorf("exec %q: %w", cmdline, ErrNoProgram)
	}

	data, err := m.readImage(argv[0])
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", argv[0], err)
	}
	name, err := parseImage(data)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", argv[0], err)
	}
	m.mu.RLock()
	prog, ok := m.programs[name]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("load %s: %w: %s", argv[0], ErrNoProgram, name)
	}

	stack, err := m.setupStack(argv)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", argv[0], err)
	}

	p := m.newProcess(argv[0], cmdline, parent, stack)
	metrics.IncSpawn()
	m.log.Info("Process started", "pid", p.ID, "parent", parent.ID, "cmdline", cmdline)
	m.record(history.EventSpawn, p, 0)

	m.wg.Add(1)
	go m.run(p, prog, stack.esp)
	return p.ID, nil
}

// readImage reads a whole executable under the filesystem lock.
func (m *Machine) readImage(file string) ([]byte, error) {
	var data []byte
	err := m.guarded.Do(func(fs fsys.FileSystem) error {
		f, err := fs.Open(file)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		n, err := f.Length()
		if err != nil {
			return err
		}
		data = make([]byte, n)
		got, err := f.Read(data)
		data = data[:got]
		return err
	})
	return data, err
}

// setupStack maps the stack pages just below PhysBase and pushes argv.
func (m *Machine) setupStack(argv []string) (*stackImage, error) {
	size := uint32(m.opts.StackPages) * vm.PageSize
	space := vm.NewAddressSpace()
	if err := space.MapRange(vm.PhysBase-size, size); err != nil {
		return nil, err
	}
	esp, err := user.PushArgs(space, vm.PhysBase, size, argv)
	if err != nil {
		return nil, err
	}
	return &stackImage{space: space, esp: esp}, nil
}
