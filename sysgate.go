package sysgate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/sysgate/internal/config"
	"github.com/loykin/sysgate/internal/console"
	"github.com/loykin/sysgate/internal/fsys"
	"github.com/loykin/sysgate/internal/history"
	"github.com/loykin/sysgate/internal/history/factory"
	"github.com/loykin/sysgate/internal/kernel"
	"github.com/loykin/sysgate/internal/kproc"
	"github.com/loykin/sysgate/internal/logger"
	"github.com/loykin/sysgate/internal/metrics"
	"github.com/loykin/sysgate/internal/programs"
	iapi "github.com/loykin/sysgate/internal/server"
	"github.com/loykin/sysgate/internal/user"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = kproc.Status

type PID = kproc.PID

// Program is a user program body; Proc is its view of the machine.
type Program = user.Program

type Proc = user.Proc

type HistorySink = history.Sink

var ErrPoweredOff = kernel.ErrPoweredOff

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func DefaultConfig() *Config { return cfg.Default() }

// Machine is a thin facade over internal/kernel.Machine that also owns the
// resources built from a Config.
type Machine struct {
	inner    *kernel.Machine
	sinks    []history.Sink
	logClose io.Closer
}

// Boot builds a machine from c with the built-in programs installed and the
// configured host files copied in. in and out back the console; log output
// goes to stderr unless the config names a file.
func Boot(c *Config, in io.Reader, out io.Writer) (*Machine, error) {
	if c == nil {
		c = cfg.Default()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log, logClose, err := logger.New(c.Log.Logger(), os.Stderr)
	if err != nil {
		return nil, err
	}

	fs := fsys.NewMemory()
	if c.FS.Root != "" {
		if fs, err = fsys.NewDir(c.FS.Root); err != nil {
			_ = logClose.Close()
			return nil, err
		}
	}
	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			_ = logClose.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	sinks, err := factory.NewSinks(c.History.Sinks)
	if err != nil {
		_ = logClose.Close()
		return nil, err
	}

	m := &Machine{
		inner: kernel.New(kernel.Options{
			FS:             fs,
			Console:        console.New(in, out),
			Logger:         log,
			Sinks:          sinks,
			ExitBanner:     c.Console.ExitBanner,
			StackPages:     c.Memory.StackPages,
			MaxOpenFiles:   c.Limits.MaxOpenFiles,
			MaxCmdline:     c.Limits.MaxCmdline,
			HistoryTimeout: c.History.Timeout,
		}),
		sinks:    sinks,
		logClose: logClose,
	}
	for name, prog := range programs.All() {
		m.inner.Register(name, prog)
	}
	if err := m.inner.Install(); err != nil {
		m.release()
		return nil, err
	}
	for _, entry := range c.FS.Put {
		host, name := cfg.ParsePut(entry)
		if err := m.PutFile(host, name); err != nil {
			m.release()
			return nil, err
		}
	}
	return m, nil
}

func (m *Machine) BootID() string                     { return m.inner.BootID() }
func (m *Machine) Programs() []string                 { return m.inner.Programs() }
func (m *Machine) Processes() []Status                { return m.inner.Processes() }
func (m *Machine) Process(pid PID) (Status, bool)     { return m.inner.Process(pid) }
func (m *Machine) PowerOff()                          { m.inner.PowerOff() }
func (m *Machine) Put(name string, data []byte) error { return m.inner.Put(name, data) }

// Register adds a program and installs its executable.
func (m *Machine) Register(name string, prog Program) error {
	m.inner.Register(name, prog)
	return m.inner.Install(name)
}

// PutFile copies the host file at host into the machine as name.
func (m *Machine) PutFile(host, name string) error {
	data, err := os.ReadFile(host)
	if err != nil {
		return fmt.Errorf("put %s: %w", host, err)
	}
	if err := m.inner.Put(name, data); err != nil {
		return fmt.Errorf("put %s as %s: %w", host, name, err)
	}
	return nil
}

// Run executes cmdline and returns its exit status.
func (m *Machine) Run(ctx context.Context, cmdline string) (int, error) {
	return m.inner.Run(ctx, cmdline)
}

// Close powers the machine off, waits for its processes and releases the
// history sinks and log file.
func (m *Machine) Close(ctx context.Context) error {
	err := m.inner.Shutdown(ctx)
	m.release()
	return err
}

func (m *Machine) release() {
	factory.Close(m.sinks)
	_ = m.logClose.Close()
}

// NewHTTPServer returns an unstarted monitor server for m.
func NewHTTPServer(addr, basePath string, m *Machine) *http.Server {
	return iapi.NewServer(addr, iapi.NewRouter(m.inner, m.inner.BootID(), basePath))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
