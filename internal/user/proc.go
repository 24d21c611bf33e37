// Package user is the runtime linked into every user program: it reads the
// program's arguments off its initial stack, manages a small data segment and
// provides one stub per system call.
//
// Memory access from this package is user-mode access. Nothing here checks
// addresses; touching an unmapped page panics with a *vm.Fault, which the
// kernel turns into termination with status -1.
package user

import (
	"encoding/binary"

	"github.com/loykin/sysgate/internal/abi"
	"github.com/loykin/sysgate/internal/trap"
	"github.com/loykin/sysgate/internal/vm"
)

// Trapper raises the system call trap. It returns once the kernel resumes the
// caller and does not return at all when the kernel ends it.
type Trapper interface {
	Trap(f *trap.Frame)
}

// Program is the entry point of a user program. Its return value becomes the
// exit status, as if passed to exit.
type Program func(u *Proc) int

// frameSlots is room for the largest call frame.
const frameSlots = 4

// Proc is a running user program's view of itself.
type Proc struct {
	space *vm.AddressSpace
	t     Trapper
	esp   uint32
	brk   uint32
}

// NewProc returns the runtime for a program whose loader left the stack
// pointer at esp.
func NewProc(space *vm.AddressSpace, t Trapper, esp uint32) *Proc {
	return &Proc{space: space, t: t, esp: esp, brk: vm.CodeBase}
}

// Args returns argv as laid out by the loader: a fake return address at esp,
// then argc, then a pointer to the argv array.
func (u *Proc) Args() []string {
	argc := u.word(u.esp + 4)
	argv := u.word(u.esp + 8)
	out := make([]string, 0, argc)
	for i := uint32(0); i < argc; i++ {
		out = append(out, u.CString(u.word(argv+4*i)))
	}
	return out
}

// Alloc reserves n bytes in the data segment, mapping pages as needed, and
// returns the address. Allocations are never freed.
func (u *Proc) Alloc(n uint32) uint32 {
	addr := u.brk
	if err := u.space.MapRange(addr, max(n, 1)); err != nil {
		panic(&vm.Fault{Addr: addr, Reason: vm.ReasonOverflow})
	}
	u.brk = (addr + n + 3) &^ 3
	return addr
}

// Bytes copies data into fresh memory and returns its address.
func (u *Proc) Bytes(data []byte) uint32 {
	addr := u.Alloc(uint32(len(data)))
	u.space.Poke(addr, data)
	return addr
}

// String copies s with a terminating NUL into fresh memory.
func (u *Proc) String(s string) uint32 {
	return u.Bytes(append([]byte(s), 0))
}

// CString reads the NUL-terminated string at addr.
func (u *Proc) CString(addr uint32) string {
	var out []byte
	var b [1]byte
	for {
		u.space.Peek(addr, b[:])
		if b[0] == 0 {
			return string(out)
		}
		out = append(out, b[0])
		addr++
	}
}

// Peek reads n bytes at addr.
func (u *Proc) Peek(addr uint32, n int) []byte {
	buf := make([]byte, n)
	u.space.Peek(addr, buf)
	return buf
}

// Poke writes data at addr.
func (u *Proc) Poke(addr uint32, data []byte) { u.space.Poke(addr, data) }

func (u *Proc) word(addr uint32) uint32 {
	var b [vm.WordSize]byte
	u.space.Peek(addr, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// RawSyscall pushes words below the current stack pointer, call number first,
// and traps. It returns the result register.
func (u *Proc) RawSyscall(words ...uint32) int32 {
	sp := u.esp - 4*uint32(max(len(words), frameSlots))
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	u.space.Poke(sp, buf)
	return u.TrapAt(sp)
}

// TrapAt traps with the stack pointer set to esp, whatever it addresses.
func (u *Proc) TrapAt(esp uint32) int32 {
	f := &trap.Frame{ESP: esp}
	u.t.Trap(f)
	return f.Return()
}

func (u *Proc) syscall(n abi.Number, args ...uint32) int32 {
	return u.RawSyscall(append([]uint32{uint32(n)}, args...)...)
}
