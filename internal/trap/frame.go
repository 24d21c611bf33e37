package trap

import (
	"github.com/loykin/sysgate/internal/abi"
	"github.com/loykin/sysgate/internal/vm"
)

// Frame is the part of the interrupted register state the system call layer
// needs: the user stack pointer at the moment of the trap and the result
// register the handler fills in.
type Frame struct {
	ESP uint32
	EAX uint32
}

// SetReturn stores a handler result in the result register.
func (f *Frame) SetReturn(v int32) { f.EAX = uint32(v) }

// Return reads the result register as the signed value user code sees.
func (f *Frame) Return() int32 { return int32(f.EAX) }

// Args is a validated view over the argument words of a frame. Every accessor
// checks the slot address (and, for pointers, the pointed-to memory) before
// touching it and reports violations as *vm.Fault.
type Args struct {
	space *vm.AddressSpace
	sp    uint32
}

func (f *Frame) Args(space *vm.AddressSpace) Args {
	return Args{space: space, sp: f.ESP}
}

// Word reads slot i.
func (a Args) Word(i int) (uint32, error) {
	addr := uint64(a.sp) + uint64(abi.Slot(i))
	if addr+vm.WordSize > uint64(vm.PhysBase) {
		return 0, &vm.Fault{Addr: uint32(addr), Reason: vm.ReasonKernel}
	}
	return vm.ReadWord(a.space, uint32(addr))
}

// Int reads slot i as a signed integer.
func (a Args) Int(i int) (int32, error) {
	w, err := a.Word(i)
	return int32(w), err
}

// Number reads and decodes the call number in slot 0.
func (a Args) Number() (abi.Number, error) {
	w, err := a.Word(0)
	if err != nil {
		return abi.Unsupported, err
	}
	return abi.Decode(w), nil
}

// String reads slot i as a pointer to a NUL-terminated user string of at most
// max bytes.
func (a Args) String(i int, max int) (string, error) {
	ptr, err := a.Word(i)
	if err != nil {
		return "", err
	}
	return vm.ReadString(a.space, ptr, max)
}

// Buffer reads slot i as a pointer to size bytes of user memory and returns
// the validated page segments backing it.
func (a Args) Buffer(i int, size uint32) ([][]byte, error) {
	ptr, err := a.Word(i)
	if err != nil {
		return nil, err
	}
	return vm.Segments(a.space, ptr, size)
}
